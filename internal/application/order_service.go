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

// OrderService serializes all transitions for a given order behind a
// per-order lock and funnels them through the pure transition function.
// Outbound intents run before the new state is persisted, so a transient
// partner failure leaves the order unchanged and the triggering event
// retryable.
type OrderService struct {
	orders  ports.OrderRepository
	gateway *PartnerGateway
	broker  ports.EventBroker
	metrics *metrics.Metrics
	logger  zerolog.Logger

	acceptanceWindow time.Duration
	now              func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrderService(
	orders ports.OrderRepository,
	gateway *PartnerGateway,
	broker ports.EventBroker,
	m *metrics.Metrics,
	acceptanceWindow time.Duration,
	logger zerolog.Logger,
) *OrderService {
	return &OrderService{
		orders:           orders,
		gateway:          gateway,
		broker:           broker,
		metrics:          m,
		acceptanceWindow: acceptanceWindow,
		logger:           logger,
		now:              time.Now,
		locks:            make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex serializing transitions for one order.
func (s *OrderService) lock(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[orderID] = l
	}
	return l
}

// CreateFromNotification registers a new order in PENDING. Re-delivery of
// the same notification returns the existing order unchanged.
func (s *OrderService) CreateFromNotification(ctx context.Context, orderID, storeID string, placedAt time.Time, scheduledFor *time.Time) (*domain.Order, error) {
	if orderID == "" {
		return nil, &domain.ValidationError{Field: "order_id", Reason: "required"}
	}

	l := s.lock(orderID)
	l.Lock()
	defer l.Unlock()

	existing, err := s.orders.Get(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}

	order := domain.NewOrder(orderID, storeID, placedAt, scheduledFor)
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, err
	}

	s.metrics.OrderTransitions.WithLabelValues("", string(domain.OrderPending)).Inc()
	s.publish(order, "order.created")
	s.logger.Info().
		Str("orderId", orderID).
		Str("storeId", storeID).
		Bool("scheduled", order.Scheduled).
		Msg("Order registered")
	return order, nil
}

// ApplyAction runs one transition for an order: load, apply, execute the
// owed partner notifications, persist, publish.
func (s *OrderService) ApplyAction(ctx context.Context, orderID string, act domain.Action) (*domain.Order, error) {
	l := s.lock(orderID)
	l.Lock()
	defer l.Unlock()

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	next, intents, err := domain.Apply(order, act, s.now())
	if err != nil {
		return nil, err
	}
	if next.Version == order.Version {
		// Duplicate of a transition already taken.
		return order, nil
	}

	if len(intents) > 0 {
		if err := s.gateway.Execute(ctx, intents); err != nil {
			return nil, err
		}
	}

	if err := s.orders.Save(ctx, next); err != nil {
		return nil, err
	}

	s.metrics.OrderTransitions.WithLabelValues(string(order.Status), string(next.Status)).Inc()
	s.publish(next, "order.updated")
	s.logger.Info().
		Str("orderId", orderID).
		Str("action", string(act.Type)).
		Str("from", string(order.Status)).
		Str("to", string(next.Status)).
		Int64("version", next.Version).
		Msg("Order transitioned")
	return next, nil
}

// Operator actions. Each builds an operator-origin action so the resulting
// transition notifies the partner platform.

func (s *OrderService) Accept(ctx context.Context, orderID string, etaMinutes int, details string) (*domain.Order, error) {
	if etaMinutes <= 0 {
		return nil, &domain.ValidationError{Field: "eta_minutes", Reason: "must be positive"}
	}
	return s.ApplyAction(ctx, orderID, domain.Action{
		Type:       domain.ActionAccept,
		Origin:     domain.OriginOperator,
		ETAMinutes: etaMinutes,
		Details:    details,
	})
}

func (s *OrderService) Deny(ctx context.Context, orderID string, reason domain.CancelReason, details string) (*domain.Order, error) {
	return s.ApplyAction(ctx, orderID, domain.Action{
		Type:    domain.ActionDeny,
		Origin:  domain.OriginOperator,
		Reason:  reason,
		Details: details,
	})
}

func (s *OrderService) MarkReady(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.ApplyAction(ctx, orderID, domain.Action{
		Type:   domain.ActionMarkReady,
		Origin: domain.OriginOperator,
	})
}

func (s *OrderService) Cancel(ctx context.Context, orderID string, reason domain.CancelReason, details string) (*domain.Order, error) {
	return s.ApplyAction(ctx, orderID, domain.Action{
		Type:    domain.ActionCancel,
		Origin:  domain.OriginOperator,
		Reason:  reason,
		Details: details,
	})
}

func (s *OrderService) ResolveIssue(ctx context.Context, orderID string, unrecoverable bool) (*domain.Order, error) {
	return s.ApplyAction(ctx, orderID, domain.Action{
		Type:          domain.ActionResolveIssue,
		Origin:        domain.OriginOperator,
		Unrecoverable: unrecoverable,
	})
}

func (s *OrderService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

func (s *OrderService) List(ctx context.Context, status domain.OrderStatus, limit int) ([]*domain.Order, error) {
	return s.orders.List(ctx, status, limit)
}

// SweepAcceptanceWindow fails every PENDING order that has outlived the
// acceptance window. Scheduled orders are measured from their fire time,
// so one placed for tomorrow is left alone today. Returns the number of
// orders timed out.
func (s *OrderService) SweepAcceptanceWindow(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.acceptanceWindow)

	expired, err := s.orders.ListExpiredPending(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	timedOut := 0
	for _, order := range expired {
		_, err := s.ApplyAction(ctx, order.ID, domain.Action{
			Type:   domain.ActionTimeout,
			Origin: domain.OriginPartner,
		})
		if err != nil {
			// An operator may have raced the sweep; skip and move on.
			s.logger.Warn().Err(err).Str("orderId", order.ID).Msg("Sweep skipped order")
			continue
		}
		timedOut++
	}

	if timedOut > 0 {
		s.logger.Info().Int("count", timedOut).Msg("Acceptance window sweep timed out orders")
	}
	return timedOut, nil
}

// StartSweeper runs the acceptance-window sweep on an interval until ctx is
// cancelled.
func (s *OrderService) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepAcceptanceWindow(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Acceptance window sweep failed")
			}
		}
	}
}

func (s *OrderService) publish(order *domain.Order, eventType string) {
	s.broker.Publish(ports.TopicOrders, domain.StreamEvent{
		Type:    eventType,
		OrderID: order.ID,
		Data: map[string]any{
			"status":  string(order.Status),
			"version": order.Version,
		},
		At: s.now(),
	})
}
