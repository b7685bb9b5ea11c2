package webhook_handlers

import (
	"context"

	"eats-partner-core/internal/application"
	"eats-partner-core/internal/domain"

	"github.com/rs/zerolog"
)

// OrderStatusHandler applies platform-side order status updates: courier
// pickup and delivery progress, kitchen state echoed back from POS, and
// platform cancellations delivered as status changes.
type OrderStatusHandler struct {
	orders *application.OrderService
	logger zerolog.Logger
}

// NewOrderStatusHandler creates a new order status handler
func NewOrderStatusHandler(orders *application.OrderService, logger zerolog.Logger) *OrderStatusHandler {
	return &OrderStatusHandler{
		orders: orders,
		logger: logger,
	}
}

// CanHandle returns true if this handler can process the given event type
func (h *OrderStatusHandler) CanHandle(eventType domain.EventType) bool {
	return eventType == domain.EventOrderStatusUpdate
}

// statusActions maps the platform's status strings onto lifecycle actions.
var statusActions = map[string]domain.ActionType{
	"preparing":        domain.ActionStartPreparing,
	"ready_for_pickup": domain.ActionMarkReady,
	"dispatched":       domain.ActionMarkDispatched,
	"picked_up":        domain.ActionMarkDispatched,
	"delivered":        domain.ActionMarkDelivered,
	"cancelled":        domain.ActionCancel,
}

// Handle applies the status change through the lifecycle
func (h *OrderStatusHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	var data struct {
		OrderID      string `json:"order_id"`
		Status       string `json:"status"`
		OrderVersion int64  `json:"order_version"`
	}
	if err := unmarshalData(event, &data); err != nil {
		return err
	}

	orderID := data.OrderID
	if orderID == "" {
		orderID = event.OrderID
	}

	actionType, ok := statusActions[data.Status]
	if !ok {
		return &domain.ValidationError{Field: "data.status", Reason: "unrecognized status " + data.Status}
	}

	act := domain.Action{
		Type:         actionType,
		Origin:       domain.OriginPartner,
		OrderVersion: data.OrderVersion,
	}
	if actionType == domain.ActionCancel {
		act.Reason = domain.CancelOther
	}

	order, err := h.orders.ApplyAction(ctx, orderID, act)
	if err != nil {
		return retryIfUnknownOrder(err, "apply status update")
	}

	h.logger.Info().
		Str("orderId", order.ID).
		Str("status", data.Status).
		Str("orderStatus", string(order.Status)).
		Msg("Order status update applied")
	return nil
}
