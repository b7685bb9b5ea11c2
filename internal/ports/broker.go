package ports

import "eats-partner-core/internal/domain"

// Topics for operator-facing event fan-out.
const (
	TopicEvents = "events"
	TopicOrders = "orders"
)

// EventBroker fans processed-event and order-state notifications out to
// operator subscriptions (SSE streams). Publish is non-blocking; slow
// subscribers drop messages rather than stalling the pipeline.
type EventBroker interface {
	Subscribe(topic string) chan domain.StreamEvent
	Unsubscribe(topic string, ch chan domain.StreamEvent)
	Publish(topic string, evt domain.StreamEvent)
}
