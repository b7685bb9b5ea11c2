package webhook_handlers

import (
	"encoding/json"
	"errors"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"
)

// envelope mirrors the partner wire format stored verbatim on the event row.
type envelope struct {
	Metadata struct {
		EventID    string `json:"event_id"`
		EventType  string `json:"event_type"`
		EventTime  int64  `json:"event_time"`
		ResourceID string `json:"resource_id"`
	} `json:"metadata"`
	Data json.RawMessage `json:"data"`
}

// unmarshalData decodes the data section of a stored event payload into v.
func unmarshalData(event *domain.WebhookEvent, v any) error {
	var env envelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return &domain.ValidationError{Reason: "malformed event payload"}
	}
	if len(env.Data) == 0 {
		return &domain.ValidationError{Field: "data", Reason: "required"}
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &domain.ValidationError{Field: "data", Reason: "malformed"}
	}
	return nil
}

// retryIfUnknownOrder converts a missing-order error into a transient one.
// Events for one order can arrive out of order; the notification that
// registers it may still be in flight, so the retry schedule gets a chance
// to apply this event once the order exists.
func retryIfUnknownOrder(err error, op string) error {
	if errors.Is(err, ports.ErrNotFound) {
		return &domain.TransientDependencyError{Op: op, Err: errors.New("order not yet registered")}
	}
	return err
}
