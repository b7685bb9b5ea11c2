package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/metrics"
	"eats-partner-core/internal/ports"

	"github.com/rs/zerolog"
)

// RetryConfig bounds the dispatch retry schedule.
type RetryConfig struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Workers      int
	PollInterval time.Duration
	ClaimTimeout time.Duration
	BatchSize    int
}

// DefaultRetryConfig returns the production retry schedule: 30s doubling to
// a 1h ceiling across at most 8 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:    30 * time.Second,
		MaxDelay:     time.Hour,
		MaxAttempts:  8,
		Workers:      4,
		PollInterval: 5 * time.Second,
		ClaimTimeout: 5 * time.Minute,
		BatchSize:    16,
	}
}

// Backoff returns the delay before the attempt after attempts failures.
func (c RetryConfig) Backoff(attempts int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// DispatchWorker drains due events from the store and runs them through the
// dispatcher. The store is the retry queue: a failed transient attempt is
// parked with a next-attempt time and picked up again by whichever worker
// claims it next. Events claimed by a worker that died are reclaimed after
// ClaimTimeout.
type DispatchWorker struct {
	events     ports.EventRepository
	dispatcher *Dispatcher
	broker     ports.EventBroker
	metrics    *metrics.Metrics
	cfg        RetryConfig
	logger     zerolog.Logger

	nudge <-chan struct{}
	now   func() time.Time
}

func NewDispatchWorker(
	events ports.EventRepository,
	dispatcher *Dispatcher,
	broker ports.EventBroker,
	m *metrics.Metrics,
	cfg RetryConfig,
	nudge <-chan struct{},
	logger zerolog.Logger,
) *DispatchWorker {
	return &DispatchWorker{
		events:     events,
		dispatcher: dispatcher,
		broker:     broker,
		metrics:    m,
		cfg:        cfg,
		logger:     logger,
		nudge:      nudge,
		now:        time.Now,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (w *DispatchWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *DispatchWorker) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.nudge:
		}
		w.drain(ctx)
	}
}

// drain claims and processes due events until the queue is empty.
func (w *DispatchWorker) drain(ctx context.Context) {
	for {
		now := w.now()
		claimed, err := w.events.ClaimDue(ctx, now, now.Add(-w.cfg.ClaimTimeout), w.cfg.BatchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to claim due events")
			return
		}
		if len(claimed) == 0 {
			return
		}
		for _, event := range claimed {
			w.process(ctx, event)
		}
	}
}

// process runs one dispatch attempt and settles the event's status.
func (w *DispatchWorker) process(ctx context.Context, event *domain.WebhookEvent) {
	w.metrics.EventsInFlight.Inc()
	defer w.metrics.EventsInFlight.Dec()

	attempts := event.Attempts + 1
	err := w.dispatcher.Dispatch(ctx, event)

	switch {
	case err == nil:
		w.settleProcessed(ctx, event, attempts, "processed")

	case errors.Is(err, domain.ErrStaleVersion):
		// Out-of-order delivery of an older snapshot. Discarding it is the
		// correct terminal outcome, not a failure.
		w.logger.Info().
			Str("eventId", event.EventID).
			Str("orderId", event.OrderID).
			Msg("Stale event discarded")
		w.settleProcessed(ctx, event, attempts, "stale_discarded")

	case domain.IsTransient(err):
		if attempts >= w.cfg.MaxAttempts {
			exhausted := &domain.RetryExhaustedError{EventID: event.EventID, Attempts: attempts}
			w.logger.Error().
				Err(err).
				Str("eventId", event.EventID).
				Int("attempts", attempts).
				Msg("Retries exhausted")
			w.settleFailed(ctx, event, attempts, exhausted.Error(), "exhausted")
			return
		}
		next := w.now().Add(w.cfg.Backoff(attempts))
		if markErr := w.events.MarkRetrying(ctx, event.ID, attempts, next, err.Error()); markErr != nil {
			w.logger.Error().Err(markErr).Str("eventId", event.EventID).Msg("Failed to park event for retry")
			return
		}
		w.metrics.EventsProcessed.WithLabelValues(string(event.Type), "retrying").Inc()
		w.logger.Warn().
			Err(err).
			Str("eventId", event.EventID).
			Int("attempts", attempts).
			Time("nextAttempt", next).
			Msg("Transient dispatch failure, retry scheduled")

	default:
		// Permanent: validation failures, illegal transitions, unknown types.
		w.logger.Error().
			Err(err).
			Str("eventId", event.EventID).
			Str("eventType", string(event.Type)).
			Msg("Event failed permanently")
		w.settleFailed(ctx, event, attempts, err.Error(), "failed")
	}
}

func (w *DispatchWorker) settleProcessed(ctx context.Context, event *domain.WebhookEvent, attempts int, outcome string) {
	if err := w.events.MarkProcessed(ctx, event.ID, attempts, w.now()); err != nil {
		w.logger.Error().Err(err).Str("eventId", event.EventID).Msg("Failed to mark event processed")
		return
	}
	w.metrics.EventsProcessed.WithLabelValues(string(event.Type), outcome).Inc()
	w.broker.Publish(ports.TopicEvents, domain.StreamEvent{
		Type:    "event.processed",
		EventID: event.EventID,
		OrderID: event.OrderID,
		Data:    map[string]any{"event_type": string(event.Type), "attempts": attempts},
		At:      w.now(),
	})
}

func (w *DispatchWorker) settleFailed(ctx context.Context, event *domain.WebhookEvent, attempts int, reason, outcome string) {
	if err := w.events.MarkFailed(ctx, event.ID, attempts, reason); err != nil {
		w.logger.Error().Err(err).Str("eventId", event.EventID).Msg("Failed to mark event failed")
		return
	}
	w.metrics.EventsProcessed.WithLabelValues(string(event.Type), outcome).Inc()
	w.broker.Publish(ports.TopicEvents, domain.StreamEvent{
		Type:    "event.failed",
		EventID: event.EventID,
		OrderID: event.OrderID,
		Data:    map[string]any{"event_type": string(event.Type), "attempts": attempts, "error": reason},
		At:      w.now(),
	})
}
