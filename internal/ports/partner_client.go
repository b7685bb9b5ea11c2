package ports

import (
	"context"

	"eats-partner-core/internal/domain"
)

// TokenGrant is the raw result of a token endpoint call.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
}

// PartnerClient defines every call this service makes to the partner
// platform. The outbound gateway is its only consumer; nothing else in the
// codebase talks to the partner directly. Order calls take the access token
// explicitly so the client itself stays stateless.
type PartnerClient interface {
	// OAuth
	ExchangeClientCredentials(ctx context.Context, scopes []string) (*TokenGrant, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
	RevokeToken(ctx context.Context, token string) error
	IntrospectToken(ctx context.Context, token string) (*domain.TokenIntrospection, error)

	// Orders
	AcceptOrder(ctx context.Context, accessToken, orderID string, etaMinutes int, reason string) error
	DenyOrder(ctx context.Context, accessToken, orderID string, reason domain.CancelReason, explanation string) error
	MarkOrderReady(ctx context.Context, accessToken, orderID string) error
	CancelOrder(ctx context.Context, accessToken, orderID string, reason domain.CancelReason, details string) error

	// Deliveries
	CreateDeliveryQuote(ctx context.Context, accessToken, orderID string) (*domain.DeliveryQuote, error)
	CreateDelivery(ctx context.Context, accessToken, orderID, quoteID string) (*domain.Delivery, error)
}
