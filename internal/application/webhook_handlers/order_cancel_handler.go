package webhook_handlers

import (
	"context"

	"eats-partner-core/internal/application"
	"eats-partner-core/internal/domain"

	"github.com/rs/zerolog"
)

// OrderCancelHandler handles platform-initiated order cancellations.
type OrderCancelHandler struct {
	orders *application.OrderService
	logger zerolog.Logger
}

// NewOrderCancelHandler creates a new order cancel handler
func NewOrderCancelHandler(orders *application.OrderService, logger zerolog.Logger) *OrderCancelHandler {
	return &OrderCancelHandler{
		orders: orders,
		logger: logger,
	}
}

// CanHandle returns true if this handler can process the given event type
func (h *OrderCancelHandler) CanHandle(eventType domain.EventType) bool {
	return eventType == domain.EventOrderCancel
}

// Handle cancels the order without notifying the partner back
func (h *OrderCancelHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	var data struct {
		OrderID      string `json:"order_id"`
		Reason       string `json:"reason"`
		Details      string `json:"details"`
		OrderVersion int64  `json:"order_version"`
	}
	if err := unmarshalData(event, &data); err != nil {
		return err
	}

	orderID := data.OrderID
	if orderID == "" {
		orderID = event.OrderID
	}

	reason := domain.CancelReason(data.Reason)
	if reason == "" {
		reason = domain.CancelOther
	}

	order, err := h.orders.ApplyAction(ctx, orderID, domain.Action{
		Type:         domain.ActionCancel,
		Origin:       domain.OriginPartner,
		Reason:       reason,
		Details:      data.Details,
		OrderVersion: data.OrderVersion,
	})
	if err != nil {
		return retryIfUnknownOrder(err, "cancel order")
	}

	h.logger.Info().
		Str("orderId", order.ID).
		Str("reason", string(reason)).
		Msg("Order cancelled by platform")
	return nil
}
