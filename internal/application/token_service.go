package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/metrics"
	"eats-partner-core/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// expiryMargin is how long before actual expiry a token stops being handed
// out, so an outbound call never races its own credential.
const expiryMargin = 60 * time.Second

// Transient partner failures during a grant are retried in-line with a
// doubling delay; the webhook retry pipeline does not cover operator-driven
// paths, so the token service carries its own bounded schedule.
const (
	grantAttempts  = 3
	grantBaseDelay = 250 * time.Millisecond
)

// TokenService owns the OAuth token lifecycle. It is the only component
// that talks to the partner token endpoints; everything outbound borrows
// access tokens from it. Concurrent acquisitions for the same scope set
// collapse into a single upstream exchange.
type TokenService struct {
	repo    ports.TokenRepository
	client  ports.PartnerClient
	scopes  []string
	metrics *metrics.Metrics
	logger  zerolog.Logger

	group singleflight.Group
	now   func() time.Time
	sleep func(time.Duration)
}

func NewTokenService(
	repo ports.TokenRepository,
	client ports.PartnerClient,
	scopes []string,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *TokenService {
	return &TokenService{
		repo:    repo,
		client:  client,
		scopes:  scopes,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Acquire returns a usable access token for the configured scope set,
// exchanging or refreshing through the partner platform when the cached
// token is missing, expiring, or revoked.
func (s *TokenService) Acquire(ctx context.Context) (string, error) {
	subject := domain.ScopeKey(s.scopes)

	token, err := s.repo.Get(ctx, subject)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return "", err
	}
	if token.Usable(s.now(), expiryMargin) && token.HasScopes(s.scopes) {
		return token.AccessToken, nil
	}

	// Collapse a stampede of callers behind one exchange. The winner's
	// result (or error) is shared by everyone waiting.
	v, err, _ := s.group.Do(subject, func() (interface{}, error) {
		return s.obtain(ctx, subject)
	})
	if err != nil {
		return "", err
	}
	return v.(*domain.Token).AccessToken, nil
}

// obtain re-checks the store (another caller may have just won the flight on
// a previous key generation), then refreshes if possible, falling back to a
// fresh client-credentials exchange.
func (s *TokenService) obtain(ctx context.Context, subject string) (*domain.Token, error) {
	token, err := s.repo.Get(ctx, subject)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}
	if token.Usable(s.now(), expiryMargin) && token.HasScopes(s.scopes) {
		return token, nil
	}

	if token != nil && !token.Revoked && token.RefreshToken != "" {
		refreshed, err := s.refresh(ctx, subject, token.RefreshToken)
		if err == nil {
			return refreshed, nil
		}
		if domain.IsTransient(err) {
			return nil, err
		}
		// Refresh token rejected outright: fall through to a new exchange.
		s.logger.Warn().Err(err).Str("subject", subject).Msg("Refresh rejected, falling back to exchange")
	}

	return s.exchange(ctx, subject)
}

func (s *TokenService) exchange(ctx context.Context, subject string) (*domain.Token, error) {
	grant, err := s.grantWithRetry(ctx, "client_credentials", func() (*ports.TokenGrant, error) {
		return s.client.ExchangeClientCredentials(ctx, s.scopes)
	})
	if err != nil {
		s.metrics.TokenExchanges.WithLabelValues("client_credentials", "error").Inc()
		return nil, err
	}
	s.metrics.TokenExchanges.WithLabelValues("client_credentials", "success").Inc()
	return s.store(ctx, subject, grant)
}

func (s *TokenService) refresh(ctx context.Context, subject, refreshToken string) (*domain.Token, error) {
	grant, err := s.grantWithRetry(ctx, "refresh", func() (*ports.TokenGrant, error) {
		return s.client.RefreshToken(ctx, refreshToken)
	})
	if err != nil {
		s.metrics.TokenExchanges.WithLabelValues("refresh", "error").Inc()
		return nil, err
	}
	s.metrics.TokenExchanges.WithLabelValues("refresh", "success").Inc()
	return s.store(ctx, subject, grant)
}

// grantWithRetry runs one token-endpoint call, retrying transient failures
// up to grantAttempts with a doubling delay. Rejections fail immediately.
func (s *TokenService) grantWithRetry(ctx context.Context, grantType string, op func() (*ports.TokenGrant, error)) (*ports.TokenGrant, error) {
	delay := grantBaseDelay
	for attempt := 1; ; attempt++ {
		grant, err := op()
		if err == nil || !domain.IsTransient(err) || attempt >= grantAttempts {
			return grant, err
		}
		s.logger.Warn().
			Err(err).
			Str("grant", grantType).
			Int("attempt", attempt).
			Msg("Transient token endpoint failure, retrying")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.sleep(delay)
		delay *= 2
	}
}

func (s *TokenService) store(ctx context.Context, subject string, grant *ports.TokenGrant) (*domain.Token, error) {
	now := s.now()
	scopes := s.scopes
	if grant.Scope != "" {
		scopes = strings.Fields(grant.Scope)
	}

	token := &domain.Token{
		Subject:      subject,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TokenType:    grant.TokenType,
		Scopes:       scopes,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(grant.ExpiresIn) * time.Second),
	}
	if err := s.repo.Save(ctx, token); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("subject", subject).
		Time("expires_at", token.ExpiresAt).
		Msg("Token stored")
	return token, nil
}

// Refresh forces a refresh of the cached token, bypassing the expiry check.
// Without a refresh token, or when the partner rejects the grant, the caller
// must re-authenticate; that is signalled upward as a TokenExpiredError,
// never papered over with a fresh exchange.
func (s *TokenService) Refresh(ctx context.Context) error {
	subject := domain.ScopeKey(s.scopes)

	_, err, _ := s.group.Do(subject+":force", func() (interface{}, error) {
		token, err := s.repo.Get(ctx, subject)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return nil, err
		}
		if token == nil || token.Revoked || token.RefreshToken == "" {
			return nil, &domain.TokenExpiredError{Subject: subject}
		}

		refreshed, err := s.refresh(ctx, subject, token.RefreshToken)
		if err != nil && !domain.IsTransient(err) {
			s.logger.Warn().Err(err).Str("subject", subject).Msg("Refresh grant rejected")
			return nil, &domain.TokenExpiredError{Subject: subject}
		}
		return refreshed, err
	})
	return err
}

// Revoke invalidates the cached token upstream and locally. Revoking when
// no token is held is a no-op success.
func (s *TokenService) Revoke(ctx context.Context) error {
	subject := domain.ScopeKey(s.scopes)

	token, err := s.repo.Get(ctx, subject)
	if errors.Is(err, ports.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if token.Revoked {
		return nil
	}

	if err := s.client.RevokeToken(ctx, token.AccessToken); err != nil {
		return err
	}

	token.Revoked = true
	if err := s.repo.Save(ctx, token); err != nil {
		return err
	}
	s.logger.Info().Str("subject", subject).Msg("Token revoked")
	return nil
}

// Introspect reports the partner platform's view of the cached token.
func (s *TokenService) Introspect(ctx context.Context) (*domain.TokenIntrospection, error) {
	subject := domain.ScopeKey(s.scopes)

	token, err := s.repo.Get(ctx, subject)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, &domain.TokenExpiredError{Subject: subject}
	}
	if err != nil {
		return nil, err
	}
	return s.client.IntrospectToken(ctx, token.AccessToken)
}
