package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker is an EventBroker backed by Redis pub/sub, for fan-out across
// multiple service instances. Local subscribers attach to a shared Redis
// subscription per topic.
type RedisBroker struct {
	client *redis.Client
	logger zerolog.Logger

	mu     sync.Mutex
	topics map[string]*redisTopic
}

type redisTopic struct {
	sub    *redis.PubSub
	cancel context.CancelFunc
	subs   []chan domain.StreamEvent
}

// NewRedisBroker connects to Redis at the given URL.
func NewRedisBroker(url string, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{
		client: redis.NewClient(opts),
		logger: logger,
		topics: make(map[string]*redisTopic),
	}, nil
}

func (b *RedisBroker) Subscribe(topic string) chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		t = &redisTopic{
			sub:    b.client.Subscribe(ctx, topic),
			cancel: cancel,
		}
		b.topics[topic] = t
		go b.pump(ctx, topic, t.sub)
	}
	t.subs = append(t.subs, ch)
	return ch
}

func (b *RedisBroker) Unsubscribe(topic string, ch chan domain.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return
	}
	for i, sub := range t.subs {
		if sub == ch {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(t.subs) == 0 {
		t.sub.Close()
		t.cancel()
		delete(b.topics, topic)
	}
}

func (b *RedisBroker) Publish(topic string, evt domain.StreamEvent) {
	raw, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Failed to encode stream event")
		return
	}
	if err := b.client.Publish(context.Background(), topic, raw).Err(); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish stream event")
	}
}

// pump forwards Redis messages to local subscribers.
func (b *RedisBroker) pump(ctx context.Context, topic string, sub *redis.PubSub) {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn().Err(err).Str("topic", topic).Msg("Redis subscription error")
			continue
		}

		var evt domain.StreamEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to decode stream event")
			continue
		}

		b.mu.Lock()
		t, ok := b.topics[topic]
		if ok {
			for _, ch := range t.subs {
				select {
				case ch <- evt:
				default:
					b.logger.Warn().Str("topic", topic).Msg("Subscriber buffer full, dropping event")
				}
			}
		}
		b.mu.Unlock()
	}
}

// Close shuts down all subscriptions and the Redis connection.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, t := range b.topics {
		t.sub.Close()
		t.cancel()
		for _, ch := range t.subs {
			close(ch)
		}
		delete(b.topics, topic)
	}
	return b.client.Close()
}

var _ ports.EventBroker = (*RedisBroker)(nil)
