package webhook_handlers

import (
	"context"

	"eats-partner-core/internal/application"
	"eats-partner-core/internal/domain"

	"github.com/rs/zerolog"
)

// FulfillmentIssueHandler records and resolves fulfillment problems
// reported against in-flight orders.
type FulfillmentIssueHandler struct {
	orders *application.OrderService
	logger zerolog.Logger
}

// NewFulfillmentIssueHandler creates a new fulfillment issue handler
func NewFulfillmentIssueHandler(orders *application.OrderService, logger zerolog.Logger) *FulfillmentIssueHandler {
	return &FulfillmentIssueHandler{
		orders: orders,
		logger: logger,
	}
}

// CanHandle returns true if this handler can process the given event type
func (h *FulfillmentIssueHandler) CanHandle(eventType domain.EventType) bool {
	return eventType == domain.EventOrderFulfillmentIssue
}

// Handle records the issue, or resolves it when the event carries a
// resolution
func (h *FulfillmentIssueHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	var data struct {
		OrderID string `json:"order_id"`
		Issue   struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"issue"`
		Resolved      bool  `json:"resolved"`
		Unrecoverable bool  `json:"unrecoverable"`
		OrderVersion  int64 `json:"order_version"`
	}
	if err := unmarshalData(event, &data); err != nil {
		return err
	}

	orderID := data.OrderID
	if orderID == "" {
		orderID = event.OrderID
	}

	act := domain.Action{
		Origin:       domain.OriginPartner,
		OrderVersion: data.OrderVersion,
	}
	if data.Resolved {
		act.Type = domain.ActionResolveIssue
		act.Unrecoverable = data.Unrecoverable
	} else {
		if data.Issue.Type == "" {
			return &domain.ValidationError{Field: "data.issue.type", Reason: "required"}
		}
		act.Type = domain.ActionReportIssue
		act.Issue = &domain.FulfillmentIssue{
			Type:        data.Issue.Type,
			Description: data.Issue.Description,
			ReportedAt:  event.ReceivedAt,
		}
	}

	order, err := h.orders.ApplyAction(ctx, orderID, act)
	if err != nil {
		return retryIfUnknownOrder(err, "apply fulfillment issue")
	}

	h.logger.Info().
		Str("orderId", order.ID).
		Bool("resolved", data.Resolved).
		Str("issueType", data.Issue.Type).
		Msg("Fulfillment issue event processed")
	return nil
}
