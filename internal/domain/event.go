package domain

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of webhook event types the partner platform
// delivers. Anything outside this set is an UnknownEventTypeError.
type EventType string

const (
	EventOrderNotification          EventType = "orders.notification"
	EventOrderScheduledNotification EventType = "orders.scheduled_notification"
	EventOrderCancel                EventType = "orders.cancel"
	EventOrderStatusUpdate          EventType = "orders.status_update"
	EventOrderFulfillmentIssue      EventType = "orders.fulfillment_issue"
	EventStoreStatus                EventType = "store.status"
	EventStoreProvisioned           EventType = "store.provisioned"
	EventStoreDeprovisioned         EventType = "store.deprovisioned"
	EventReportSuccess              EventType = "report.success"
	EventReportFailure              EventType = "report.failure"
)

var knownEventTypes = map[EventType]struct{}{
	EventOrderNotification:          {},
	EventOrderScheduledNotification: {},
	EventOrderCancel:                {},
	EventOrderStatusUpdate:          {},
	EventOrderFulfillmentIssue:      {},
	EventStoreStatus:                {},
	EventStoreProvisioned:           {},
	EventStoreDeprovisioned:         {},
	EventReportSuccess:              {},
	EventReportFailure:              {},
}

// ParseEventType validates a raw event_type string against the closed set.
func ParseEventType(raw string) (EventType, error) {
	t := EventType(raw)
	if _, ok := knownEventTypes[t]; !ok {
		return "", &UnknownEventTypeError{Type: raw}
	}
	return t, nil
}

// EventStatus is the processing state of a stored webhook event.
type EventStatus string

const (
	EventPending    EventStatus = "PENDING"
	EventProcessing EventStatus = "PROCESSING"
	EventProcessed  EventStatus = "PROCESSED"
	EventFailed     EventStatus = "FAILED"
	EventRetrying   EventStatus = "RETRYING"
)

// WebhookEvent is the durable record of one inbound webhook delivery. Rows
// are created on first successful signature verification of an unseen
// event_id and are never deleted; PROCESSED and FAILED are terminal and
// retained for audit.
type WebhookEvent struct {
	ID            string          `json:"id" bson:"_id"`
	EventID       string          `json:"event_id" bson:"event_id"`
	Type          EventType       `json:"event_type" bson:"event_type"`
	OrderID       string          `json:"order_id,omitempty" bson:"order_id,omitempty"`
	StoreID       string          `json:"store_id,omitempty" bson:"store_id,omitempty"`
	Payload       json.RawMessage `json:"payload" bson:"payload"`
	Status        EventStatus     `json:"status" bson:"status"`
	Attempts      int             `json:"attempts" bson:"attempts"`
	LastError     string          `json:"last_error,omitempty" bson:"last_error,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty" bson:"next_attempt_at,omitempty"`
	ReceivedAt    time.Time       `json:"received_at" bson:"received_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at" bson:"updated_at"`
}
