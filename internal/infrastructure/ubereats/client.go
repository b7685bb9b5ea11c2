package ubereats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"

	"github.com/rs/zerolog"
)

// Config holds the endpoints and credentials for the partner platform.
type Config struct {
	APIBaseURL   string
	AuthBaseURL  string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a partner API client. Outbound calls are bounded by
// cfg.Timeout (10s when unset) so a hung partner endpoint cannot pin a
// dispatch worker.
func NewClient(cfg Config, logger zerolog.Logger) ports.PartnerClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// OAuth

func (c *client) ExchangeClientCredentials(ctx context.Context, scopes []string) (*ports.TokenGrant, error) {
	values := url.Values{}
	values.Set("grant_type", "client_credentials")
	values.Set("client_id", c.cfg.ClientID)
	values.Set("client_secret", c.cfg.ClientSecret)
	values.Set("scope", strings.Join(scopes, " "))

	return c.postTokenForm(ctx, "/oauth/v2/token", values)
}

func (c *client) RefreshToken(ctx context.Context, refreshToken string) (*ports.TokenGrant, error) {
	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("client_id", c.cfg.ClientID)
	values.Set("client_secret", c.cfg.ClientSecret)
	values.Set("refresh_token", refreshToken)

	return c.postTokenForm(ctx, "/oauth/v2/token", values)
}

func (c *client) RevokeToken(ctx context.Context, token string) error {
	values := url.Values{}
	values.Set("client_id", c.cfg.ClientID)
	values.Set("client_secret", c.cfg.ClientSecret)
	values.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AuthBaseURL+"/oauth/v2/revoke", strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransientDependencyError{Op: "revoke token", Err: err}
	}
	defer resp.Body.Close()

	// Revoking an already-revoked or unknown token is a success: the token
	// is not usable either way.
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.statusError("revoke token", resp)
}

func (c *client) IntrospectToken(ctx context.Context, token string) (*domain.TokenIntrospection, error) {
	values := url.Values{}
	values.Set("client_id", c.cfg.ClientID)
	values.Set("client_secret", c.cfg.ClientSecret)
	values.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AuthBaseURL+"/oauth/v2/introspect", strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransientDependencyError{Op: "introspect token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("introspect token", resp)
	}

	var body struct {
		Active    bool   `json:"active"`
		Exp       int64  `json:"exp"`
		Scope     string `json:"scope"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode introspect response: %w", err)
	}

	exp := body.Exp
	if exp == 0 {
		exp = body.ExpiresAt
	}
	intro := &domain.TokenIntrospection{Active: body.Active}
	if exp > 0 {
		intro.ExpiresAt = time.Unix(exp, 0)
	}
	if body.Scope != "" {
		intro.Scopes = strings.Fields(body.Scope)
	}
	return intro, nil
}

func (c *client) postTokenForm(ctx context.Context, path string, values url.Values) (*ports.TokenGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AuthBaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransientDependencyError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("token exchange", resp)
	}

	var grant ports.TokenGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &grant, nil
}

// Orders

func (c *client) AcceptOrder(ctx context.Context, accessToken, orderID string, etaMinutes int, reason string) error {
	payload := map[string]any{}
	if etaMinutes > 0 {
		payload["pickup_time"] = etaMinutes
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return c.postOrderAction(ctx, accessToken, orderID, "accept_pos_order", payload)
}

func (c *client) DenyOrder(ctx context.Context, accessToken, orderID string, reason domain.CancelReason, explanation string) error {
	payload := map[string]any{
		"reason": map[string]any{
			"code":         string(reason),
			"explanation":  explanation,
			"client_error": false,
		},
	}
	return c.postOrderAction(ctx, accessToken, orderID, "deny_pos_order", payload)
}

func (c *client) MarkOrderReady(ctx context.Context, accessToken, orderID string) error {
	return c.postOrderAction(ctx, accessToken, orderID, "ready", nil)
}

func (c *client) CancelOrder(ctx context.Context, accessToken, orderID string, reason domain.CancelReason, details string) error {
	payload := map[string]any{
		"reason":  string(reason),
		"details": details,
	}
	return c.postOrderAction(ctx, accessToken, orderID, "cancel", payload)
}

func (c *client) postOrderAction(ctx context.Context, accessToken, orderID, action string, payload map[string]any) error {
	endpoint := fmt.Sprintf("%s/v1/eats/orders/%s/%s", c.cfg.APIBaseURL, url.PathEscape(orderID), action)

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", action, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", action, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransientDependencyError{Op: "order " + action, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return c.statusError("order "+action, resp)
}

// Deliveries

func (c *client) CreateDeliveryQuote(ctx context.Context, accessToken, orderID string) (*domain.DeliveryQuote, error) {
	var quote domain.DeliveryQuote
	err := c.postJSON(ctx, accessToken, "/v1/eats/deliveries/quote",
		map[string]any{"order_id": orderID}, &quote)
	if err != nil {
		return nil, err
	}
	quote.OrderID = orderID
	return &quote, nil
}

func (c *client) CreateDelivery(ctx context.Context, accessToken, orderID, quoteID string) (*domain.Delivery, error) {
	var delivery domain.Delivery
	err := c.postJSON(ctx, accessToken, "/v1/eats/deliveries",
		map[string]any{"order_id": orderID, "quote_id": quoteID}, &delivery)
	if err != nil {
		return nil, err
	}
	delivery.OrderID = orderID
	return &delivery, nil
}

func (c *client) postJSON(ctx context.Context, accessToken, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransientDependencyError{Op: "partner call " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError("partner call "+path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError maps a non-success partner response onto the error taxonomy:
// auth failures are terminal, server-side failures are retryable, and
// anything else surfaces with the body for diagnosis.
func (c *client) statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Reason: fmt.Sprintf("%s rejected with status %d", op, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &domain.TransientDependencyError{
			Op:  op,
			Err: fmt.Errorf("partner returned status %d: %s", resp.StatusCode, string(raw)),
		}
	default:
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("op", op).
			Msg("Partner call rejected")
		return fmt.Errorf("%s failed: status %d, body: %s", op, resp.StatusCode, string(raw))
	}
}
