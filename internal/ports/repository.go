package ports

import (
	"context"
	"errors"
	"time"

	"eats-partner-core/internal/domain"
)

// ErrNotFound is returned by Get operations for missing records.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEvent is returned by EventRepository.Insert when the partner
// event_id already exists. The duplicate delivery is acknowledged without a
// second row or a second processing run.
var ErrDuplicateEvent = errors.New("duplicate event")

// EventListFilter narrows event listings for the operator API.
type EventListFilter struct {
	Status domain.EventStatus
	Type   domain.EventType
	Limit  int
}

// EventRepository is the durable, deduplicated record of inbound webhook
// events. Insert must be atomic on event_id (unique constraint or
// equivalent conditional insert); ClaimDue is the atomic hand-off from the
// retry queue to a dispatch worker.
type EventRepository interface {
	Insert(ctx context.Context, event *domain.WebhookEvent) error
	Get(ctx context.Context, id string) (*domain.WebhookEvent, error)
	List(ctx context.Context, filter EventListFilter) ([]*domain.WebhookEvent, error)

	// ClaimDue atomically moves up to limit due events to PROCESSING and
	// returns them. Due means PENDING, RETRYING with next_attempt_at <= now,
	// or PROCESSING claimed before staleBefore (crash recovery).
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.WebhookEvent, error)

	MarkProcessed(ctx context.Context, id string, attempts int, at time.Time) error
	MarkRetrying(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error

	// Requeue re-enters a FAILED or RETRYING event into the dispatch path,
	// optionally resetting its attempt counter.
	Requeue(ctx context.Context, id string, resetAttempts bool) error
}

// OrderRepository persists order lifecycle records.
type OrderRepository interface {
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	Save(ctx context.Context, order *domain.Order) error
	List(ctx context.Context, status domain.OrderStatus, limit int) ([]*domain.Order, error)

	// ListExpiredPending returns PENDING orders placed before cutoff, for the
	// acceptance-window sweep.
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error)
}

// TokenRepository persists issued tokens, one active record per subject.
type TokenRepository interface {
	Get(ctx context.Context, subject string) (*domain.Token, error)
	Save(ctx context.Context, token *domain.Token) error
}
