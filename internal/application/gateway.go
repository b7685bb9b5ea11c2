package application

import (
	"context"
	"fmt"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"

	"github.com/rs/zerolog"
)

// PartnerGateway executes the outbound side effects owed to the partner
// platform: transition notifications emitted by the order lifecycle and
// delivery operations requested by operators. Every call borrows a token
// from the token service.
type PartnerGateway struct {
	client ports.PartnerClient
	tokens *TokenService
	logger zerolog.Logger
}

func NewPartnerGateway(client ports.PartnerClient, tokens *TokenService, logger zerolog.Logger) *PartnerGateway {
	return &PartnerGateway{
		client: client,
		tokens: tokens,
		logger: logger,
	}
}

// Execute performs each intent in order, stopping at the first failure so a
// retried event re-runs from a clean state. Notification calls on the
// partner side are idempotent, so re-running an already-delivered intent on
// retry is safe.
func (g *PartnerGateway) Execute(ctx context.Context, intents []domain.Intent) error {
	for _, intent := range intents {
		if err := g.execute(ctx, intent); err != nil {
			return err
		}
	}
	return nil
}

func (g *PartnerGateway) execute(ctx context.Context, intent domain.Intent) error {
	token, err := g.tokens.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire token: %w", err)
	}

	switch intent.Kind {
	case domain.IntentNotifyAccept:
		err = g.client.AcceptOrder(ctx, token, intent.OrderID, intent.ETAMinutes, intent.Details)
	case domain.IntentNotifyDeny:
		err = g.client.DenyOrder(ctx, token, intent.OrderID, intent.Reason, intent.Details)
	case domain.IntentNotifyReady:
		err = g.client.MarkOrderReady(ctx, token, intent.OrderID)
	case domain.IntentNotifyCancel:
		err = g.client.CancelOrder(ctx, token, intent.OrderID, intent.Reason, intent.Details)
	default:
		return fmt.Errorf("unknown intent kind %q", intent.Kind)
	}

	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("intent", string(intent.Kind)).
			Str("orderId", intent.OrderID).
			Msg("Partner notification failed")
		return err
	}

	g.logger.Debug().
		Str("intent", string(intent.Kind)).
		Str("orderId", intent.OrderID).
		Msg("Partner notified")
	return nil
}

// QuoteDelivery fetches a courier estimate for an order.
func (g *PartnerGateway) QuoteDelivery(ctx context.Context, orderID string) (*domain.DeliveryQuote, error) {
	token, err := g.tokens.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire token: %w", err)
	}
	return g.client.CreateDeliveryQuote(ctx, token, orderID)
}

// CreateDelivery books a courier against a previously fetched quote.
func (g *PartnerGateway) CreateDelivery(ctx context.Context, orderID, quoteID string) (*domain.Delivery, error) {
	token, err := g.tokens.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire token: %w", err)
	}
	return g.client.CreateDelivery(ctx, token, orderID, quoteID)
}
