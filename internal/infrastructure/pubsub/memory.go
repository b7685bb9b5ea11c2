package pubsub

import (
	"sync"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"

	"github.com/rs/zerolog"
)

// MemoryBroker is an in-process EventBroker. Subscriptions are buffered
// channels per topic; a full buffer drops the message so one stalled SSE
// client cannot back-pressure the pipeline.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string][]chan domain.StreamEvent
	logger zerolog.Logger
}

func NewMemoryBroker(logger zerolog.Logger) *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string][]chan domain.StreamEvent),
		logger: logger,
	}
}

func (b *MemoryBroker) Subscribe(topic string) chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()

	b.logger.Debug().Str("topic", topic).Msg("Subscription created")
	return ch
}

func (b *MemoryBroker) Unsubscribe(topic string, ch chan domain.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, sub := range subs {
		if sub == ch {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			b.logger.Debug().Str("topic", topic).Msg("Subscription removed")
			return
		}
	}
}

func (b *MemoryBroker) Publish(topic string, evt domain.StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.topics[topic] {
		select {
		case ch <- evt:
		default:
			b.logger.Warn().Str("topic", topic).Msg("Subscriber buffer full, dropping event")
		}
	}
}

var _ ports.EventBroker = (*MemoryBroker)(nil)
