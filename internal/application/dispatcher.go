package application

import (
	"context"

	"eats-partner-core/internal/domain"

	"github.com/rs/zerolog"
)

// EventHandler processes one family of webhook event types.
type EventHandler interface {
	// CanHandle returns true if this handler can process the given event type
	CanHandle(eventType domain.EventType) bool
	// Handle processes a webhook event
	Handle(ctx context.Context, event *domain.WebhookEvent) error
}

// Dispatcher routes stored webhook events to their registered handlers.
type Dispatcher struct {
	handlers []EventHandler
	logger   zerolog.Logger
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// RegisterHandler adds a handler to the dispatch chain
func (d *Dispatcher) RegisterHandler(handler EventHandler) {
	d.handlers = append(d.handlers, handler)
}

// Dispatch routes an event to the first handler that claims its type.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.WebhookEvent) error {
	for _, handler := range d.handlers {
		if handler.CanHandle(event.Type) {
			return handler.Handle(ctx, event)
		}
	}
	return &domain.UnknownEventTypeError{Type: string(event.Type)}
}
