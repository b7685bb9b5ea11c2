package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"
)

// MemoryEventRepository is an in-memory EventRepository for tests and for
// running without MongoDB.
type MemoryEventRepository struct {
	mu        sync.Mutex
	byID      map[string]*domain.WebhookEvent
	byEventID map[string]string
	claimedAt map[string]time.Time
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{
		byID:      make(map[string]*domain.WebhookEvent),
		byEventID: make(map[string]string),
		claimedAt: make(map[string]time.Time),
	}
}

func (r *MemoryEventRepository) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEventID[event.EventID]; exists {
		return ports.ErrDuplicateEvent
	}
	cp := *event
	r.byID[event.ID] = &cp
	r.byEventID[event.EventID] = event.ID
	return nil
}

func (r *MemoryEventRepository) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evt, ok := r.byID[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *evt
	return &cp, nil
}

func (r *MemoryEventRepository) List(ctx context.Context, filter ports.EventListFilter) ([]*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.WebhookEvent
	for _, evt := range r.byID {
		if filter.Status != "" && evt.Status != filter.Status {
			continue
		}
		if filter.Type != "" && evt.Type != filter.Type {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryEventRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*domain.WebhookEvent
	for _, evt := range r.byID {
		switch evt.Status {
		case domain.EventPending:
			due = append(due, evt)
		case domain.EventRetrying:
			if evt.NextAttemptAt != nil && !evt.NextAttemptAt.After(now) {
				due = append(due, evt)
			}
		case domain.EventProcessing:
			if claimed, ok := r.claimedAt[evt.ID]; ok && claimed.Before(staleBefore) {
				due = append(due, evt)
			}
		}
	}

	// Oldest next-attempt first so retries drain in order.
	sort.Slice(due, func(i, j int) bool {
		return dueAt(due[i]).Before(dueAt(due[j]))
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.WebhookEvent, 0, len(due))
	for _, evt := range due {
		evt.Status = domain.EventProcessing
		evt.UpdatedAt = now
		r.claimedAt[evt.ID] = now
		cp := *evt
		out = append(out, &cp)
	}
	return out, nil
}

func dueAt(evt *domain.WebhookEvent) time.Time {
	if evt.NextAttemptAt != nil {
		return *evt.NextAttemptAt
	}
	return evt.ReceivedAt
}

func (r *MemoryEventRepository) MarkProcessed(ctx context.Context, id string, attempts int, at time.Time) error {
	return r.update(id, func(evt *domain.WebhookEvent) {
		evt.Status = domain.EventProcessed
		evt.Attempts = attempts
		evt.LastError = ""
		evt.NextAttemptAt = nil
		evt.ProcessedAt = &at
		evt.UpdatedAt = at
	})
}

func (r *MemoryEventRepository) MarkRetrying(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error {
	return r.update(id, func(evt *domain.WebhookEvent) {
		evt.Status = domain.EventRetrying
		evt.Attempts = attempts
		evt.LastError = lastError
		na := nextAttempt
		evt.NextAttemptAt = &na
		evt.UpdatedAt = time.Now()
	})
}

func (r *MemoryEventRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return r.update(id, func(evt *domain.WebhookEvent) {
		evt.Status = domain.EventFailed
		evt.Attempts = attempts
		evt.LastError = lastError
		evt.NextAttemptAt = nil
		evt.UpdatedAt = time.Now()
	})
}

func (r *MemoryEventRepository) Requeue(ctx context.Context, id string, resetAttempts bool) error {
	return r.update(id, func(evt *domain.WebhookEvent) {
		evt.Status = domain.EventPending
		evt.NextAttemptAt = nil
		evt.LastError = ""
		if resetAttempts {
			evt.Attempts = 0
		}
		evt.UpdatedAt = time.Now()
	})
}

func (r *MemoryEventRepository) update(id string, fn func(*domain.WebhookEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	evt, ok := r.byID[id]
	if !ok {
		return ports.ErrNotFound
	}
	fn(evt)
	delete(r.claimedAt, id)
	return nil
}

// MemoryOrderRepository is an in-memory OrderRepository.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *order
	r.orders[order.ID] = &cp
	return nil
}

func (r *MemoryOrderRepository) List(ctx context.Context, status domain.OrderStatus, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Order
	for _, o := range r.orders {
		if status != "" && o.Status != status {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlacedAt.After(out[j].PlacedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryOrderRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Order
	for _, o := range r.orders {
		if o.Status != domain.OrderPending {
			continue
		}
		// A scheduled order's window starts at its fire time, not at
		// notification.
		start := o.PlacedAt
		if o.Scheduled && o.ScheduledFor != nil {
			start = *o.ScheduledFor
		}
		if !start.Before(cutoff) {
			continue
		}
		cp := *o
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MemoryTokenRepository is an in-memory TokenRepository.
type MemoryTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: make(map[string]*domain.Token)}
}

func (r *MemoryTokenRepository) Get(ctx context.Context, subject string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[subject]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryTokenRepository) Save(ctx context.Context, token *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *token
	r.tokens[token.Subject] = &cp
	return nil
}
