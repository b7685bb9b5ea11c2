package webhook_handlers

import (
	"context"
	"time"

	"eats-partner-core/internal/application"
	"eats-partner-core/internal/domain"

	"github.com/rs/zerolog"
)

// OrderNotificationHandler handles new order notifications, immediate and
// scheduled.
type OrderNotificationHandler struct {
	orders *application.OrderService
	logger zerolog.Logger
}

// NewOrderNotificationHandler creates a new order notification handler
func NewOrderNotificationHandler(orders *application.OrderService, logger zerolog.Logger) *OrderNotificationHandler {
	return &OrderNotificationHandler{
		orders: orders,
		logger: logger,
	}
}

// CanHandle returns true if this handler can process the given event type
func (h *OrderNotificationHandler) CanHandle(eventType domain.EventType) bool {
	return eventType == domain.EventOrderNotification ||
		eventType == domain.EventOrderScheduledNotification
}

// Handle registers the order locally in PENDING
func (h *OrderNotificationHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	var data struct {
		OrderID      string `json:"id"`
		StoreID      string `json:"store_id"`
		PlacedAt     int64  `json:"placed_at"`
		ScheduledFor int64  `json:"scheduled_for"`
	}
	if err := unmarshalData(event, &data); err != nil {
		return err
	}

	orderID := data.OrderID
	if orderID == "" {
		orderID = event.OrderID
	}
	if orderID == "" {
		return &domain.ValidationError{Field: "data.id", Reason: "required"}
	}

	placedAt := event.ReceivedAt
	if data.PlacedAt > 0 {
		placedAt = time.Unix(data.PlacedAt, 0)
	}

	var scheduledFor *time.Time
	if event.Type == domain.EventOrderScheduledNotification && data.ScheduledFor > 0 {
		t := time.Unix(data.ScheduledFor, 0)
		scheduledFor = &t
	}

	order, err := h.orders.CreateFromNotification(ctx, orderID, data.StoreID, placedAt, scheduledFor)
	if err != nil {
		return err
	}

	h.logger.Info().
		Str("orderId", order.ID).
		Str("storeId", order.StoreID).
		Bool("scheduled", order.Scheduled).
		Msg("Order notification processed")
	return nil
}
