package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/metrics"
	"eats-partner-core/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// eventEnvelope is the partner's webhook wire format.
type eventEnvelope struct {
	Metadata struct {
		EventID    string `json:"event_id"`
		EventType  string `json:"event_type"`
		EventTime  int64  `json:"event_time"`
		ResourceID string `json:"resource_id"`
	} `json:"metadata"`
	Data json.RawMessage `json:"data"`
}

// IngestResult is what the webhook endpoint acknowledges with.
type IngestResult struct {
	EventID   string
	Duplicate bool
}

// WebhookService owns webhook ingestion: verify, validate, record exactly
// one row per event_id, and nudge the dispatch workers. Processing itself
// happens asynchronously; the endpoint acknowledges as soon as the event is
// durable.
type WebhookService struct {
	events   ports.EventRepository
	verifier ports.WebhookVerifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	nudge chan struct{}
	now   func() time.Time
}

func NewWebhookService(
	events ports.EventRepository,
	verifier ports.WebhookVerifier,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		events:   events,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
		nudge:    make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Nudge returns the channel workers watch for freshly ingested events.
func (s *WebhookService) Nudge() <-chan struct{} { return s.nudge }

// Ingest runs the full ingestion pipeline for one delivery. An AuthError or
// ValidationError means nothing was recorded and the delivery must be
// rejected. An unknown event type is recorded as FAILED and acknowledged,
// so the partner stops re-delivering something we will never process.
func (s *WebhookService) Ingest(ctx context.Context, body []byte, signature, timestamp string) (*IngestResult, error) {
	if err := s.verifier.Verify(body, signature, timestamp); err != nil {
		s.metrics.EventsIngested.WithLabelValues("", "rejected").Inc()
		return nil, err
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.metrics.EventsIngested.WithLabelValues("", "invalid").Inc()
		return nil, &domain.ValidationError{Reason: "malformed envelope"}
	}
	if env.Metadata.EventID == "" {
		s.metrics.EventsIngested.WithLabelValues("", "invalid").Inc()
		return nil, &domain.ValidationError{Field: "metadata.event_id", Reason: "required"}
	}
	if env.Metadata.EventType == "" {
		s.metrics.EventsIngested.WithLabelValues("", "invalid").Inc()
		return nil, &domain.ValidationError{Field: "metadata.event_type", Reason: "required"}
	}

	now := s.now()
	event := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		EventID:    env.Metadata.EventID,
		OrderID:    env.Metadata.ResourceID,
		Payload:    body,
		Status:     domain.EventPending,
		ReceivedAt: now,
		UpdatedAt:  now,
	}

	eventType, typeErr := domain.ParseEventType(env.Metadata.EventType)
	if typeErr != nil {
		// Recorded for audit, terminal immediately, still acknowledged.
		event.Type = domain.EventType(env.Metadata.EventType)
		event.Status = domain.EventFailed
		event.LastError = typeErr.Error()
	} else {
		event.Type = eventType
	}

	err := s.events.Insert(ctx, event)
	if errors.Is(err, ports.ErrDuplicateEvent) {
		s.metrics.EventsIngested.WithLabelValues(env.Metadata.EventType, "duplicate").Inc()
		s.logger.Debug().
			Str("eventId", env.Metadata.EventID).
			Msg("Duplicate webhook delivery acknowledged")
		return &IngestResult{EventID: env.Metadata.EventID, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if typeErr != nil {
		s.metrics.EventsIngested.WithLabelValues(env.Metadata.EventType, "unknown_type").Inc()
		s.logger.Warn().
			Str("eventId", env.Metadata.EventID).
			Str("eventType", env.Metadata.EventType).
			Msg("Unknown event type stored as failed")
		return &IngestResult{EventID: env.Metadata.EventID}, nil
	}

	s.metrics.EventsIngested.WithLabelValues(env.Metadata.EventType, "accepted").Inc()
	s.logger.Info().
		Str("eventId", env.Metadata.EventID).
		Str("eventType", env.Metadata.EventType).
		Str("resourceId", env.Metadata.ResourceID).
		Msg("Webhook event recorded")

	// Wake a worker without waiting for the next poll tick.
	select {
	case s.nudge <- struct{}{}:
	default:
	}
	return &IngestResult{EventID: env.Metadata.EventID}, nil
}

// ListEvents returns stored events for the operator API.
func (s *WebhookService) ListEvents(ctx context.Context, filter ports.EventListFilter) ([]*domain.WebhookEvent, error) {
	return s.events.List(ctx, filter)
}

// GetEvent returns one stored event by row id.
func (s *WebhookService) GetEvent(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	return s.events.Get(ctx, id)
}

// RetryEvent re-enters a FAILED event into the dispatch pipeline.
func (s *WebhookService) RetryEvent(ctx context.Context, id string, resetAttempts bool) (*domain.WebhookEvent, error) {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status != domain.EventFailed && event.Status != domain.EventRetrying {
		return nil, &domain.ValidationError{Field: "status", Reason: "only failed or retrying events can be requeued"}
	}
	if _, err := domain.ParseEventType(string(event.Type)); err != nil {
		return nil, err
	}

	if err := s.events.Requeue(ctx, id, resetAttempts); err != nil {
		return nil, err
	}

	select {
	case s.nudge <- struct{}{}:
	default:
	}

	s.logger.Info().Str("id", id).Str("eventId", event.EventID).Msg("Event requeued")
	return s.events.Get(ctx, id)
}
