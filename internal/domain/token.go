package domain

import (
	"sort"
	"strings"
	"time"
)

// Token is an issued OAuth credential for a subject. Owned exclusively by
// the token service: created on exchange, mutated only by refresh or revoke.
type Token struct {
	Subject      string    `json:"subject" bson:"_id"`
	AccessToken  string    `json:"access_token" bson:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty" bson:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type" bson:"token_type"`
	Scopes       []string  `json:"scopes" bson:"scopes"`
	IssuedAt     time.Time `json:"issued_at" bson:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at" bson:"expires_at"`
	Revoked      bool      `json:"revoked" bson:"revoked"`
}

// Usable reports whether the token can back an outbound call at now, with
// margin guarding against expiry races mid-request.
func (t *Token) Usable(now time.Time, margin time.Duration) bool {
	return t != nil && !t.Revoked && now.Add(margin).Before(t.ExpiresAt)
}

// HasScopes reports whether the token covers every requested scope.
func (t *Token) HasScopes(scopes []string) bool {
	held := make(map[string]struct{}, len(t.Scopes))
	for _, s := range t.Scopes {
		held[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := held[s]; !ok {
			return false
		}
	}
	return true
}

// ScopeKey canonicalizes a scope set for single-flight keying.
func ScopeKey(scopes []string) string {
	c := make([]string, len(scopes))
	copy(c, scopes)
	sort.Strings(c)
	return strings.Join(c, " ")
}

// TokenIntrospection is the read-only view returned by introspect.
type TokenIntrospection struct {
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
	Scopes    []string  `json:"scopes"`
}

// DeliveryQuote is an estimate from the partner's courier network.
type DeliveryQuote struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	FeeCents         int       `json:"fee_cents"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Delivery is a courier job created against a quote.
type Delivery struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	TrackingURL string `json:"tracking_url,omitempty"`
}

// StreamEvent is the payload fanned out to operator subscriptions when an
// event finishes processing or an order changes state.
type StreamEvent struct {
	Type    string         `json:"type"`
	EventID string         `json:"event_id,omitempty"`
	OrderID string         `json:"order_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}
