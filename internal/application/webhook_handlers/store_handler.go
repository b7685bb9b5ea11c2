package webhook_handlers

import (
	"context"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"

	"github.com/rs/zerolog"
)

// StoreHandler handles store provisioning and availability events. Stores
// are managed on the platform side; locally these events are surfaced to
// operator subscriptions and the audit trail.
type StoreHandler struct {
	broker ports.EventBroker
	logger zerolog.Logger
}

// NewStoreHandler creates a new store event handler
func NewStoreHandler(broker ports.EventBroker, logger zerolog.Logger) *StoreHandler {
	return &StoreHandler{
		broker: broker,
		logger: logger,
	}
}

// CanHandle returns true if this handler can process the given event type
func (h *StoreHandler) CanHandle(eventType domain.EventType) bool {
	return eventType == domain.EventStoreStatus ||
		eventType == domain.EventStoreProvisioned ||
		eventType == domain.EventStoreDeprovisioned
}

// Handle fans the store change out to operator subscriptions
func (h *StoreHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	var data struct {
		StoreID string `json:"store_id"`
		Status  string `json:"status"`
	}
	if err := unmarshalData(event, &data); err != nil {
		return err
	}

	storeID := data.StoreID
	if storeID == "" {
		storeID = event.StoreID
	}

	h.broker.Publish(ports.TopicEvents, domain.StreamEvent{
		Type:    string(event.Type),
		EventID: event.EventID,
		Data: map[string]any{
			"store_id": storeID,
			"status":   data.Status,
		},
		At: time.Now(),
	})

	h.logger.Info().
		Str("eventType", string(event.Type)).
		Str("storeId", storeID).
		Str("status", data.Status).
		Msg("Store event processed")
	return nil
}
