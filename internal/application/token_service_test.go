package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/infrastructure/repository"

	"github.com/rs/zerolog"
)

var testScopes = []string{"eats.store", "eats.order", "eats.report"}

func newTokenService(client *fakePartnerClient) (*TokenService, *repository.MemoryTokenRepository) {
	repo := repository.NewMemoryTokenRepository()
	svc := NewTokenService(repo, client, testScopes, testMetrics(), zerolog.Nop())
	return svc, repo
}

func TestAcquireExchangesOnce(t *testing.T) {
	client := newFakePartnerClient()
	svc, _ := newTokenService(client)

	tok, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if tok != "access-1" {
		t.Fatalf("token = %q", tok)
	}

	// Second acquire reuses the cached token.
	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if exchanges, _ := client.counts(); exchanges != 1 {
		t.Fatalf("exchanges = %d, want 1", exchanges)
	}
}

func TestAcquireConcurrentSingleFlight(t *testing.T) {
	client := newFakePartnerClient()
	svc, _ := newTokenService(client)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Acquire(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent acquire: %v", err)
	}

	if exchanges, _ := client.counts(); exchanges != 1 {
		t.Fatalf("exchanges = %d, want 1", exchanges)
	}
}

func TestAcquireRefreshesInsideExpiryMargin(t *testing.T) {
	client := newFakePartnerClient()
	svc, repo := newTokenService(client)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// 30s before expiry is inside the 60s margin: a new exchange happens.
	svc.now = func() time.Time { return base.Add(3600*time.Second - 30*time.Second) }
	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire near expiry: %v", err)
	}
	if exchanges, _ := client.counts(); exchanges != 2 {
		t.Fatalf("exchanges = %d, want 2", exchanges)
	}

	stored, err := repo.Get(context.Background(), domain.ScopeKey(testScopes))
	if err != nil {
		t.Fatalf("get stored token: %v", err)
	}
	if stored.Revoked {
		t.Fatal("fresh token marked revoked")
	}
}

func TestAcquireRetriesTransientExchange(t *testing.T) {
	client := newFakePartnerClient()
	client.exchangeFailNext = 2
	svc, _ := newTokenService(client)
	svc.sleep = func(time.Duration) {}

	tok, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if tok != "access-1" {
		t.Fatalf("token = %q", tok)
	}
	if exchanges, _ := client.counts(); exchanges != 3 {
		t.Fatalf("exchanges = %d, want 3", exchanges)
	}
}

func TestAcquirePropagatesTransientFailure(t *testing.T) {
	client := newFakePartnerClient()
	client.exchangeErr = &domain.TransientDependencyError{Op: "token exchange", Err: errors.New("upstream 503")}
	svc, _ := newTokenService(client)
	svc.sleep = func(time.Duration) {}

	_, err := svc.Acquire(context.Background())
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}

	// The in-line schedule is bounded, not endless.
	if exchanges, _ := client.counts(); exchanges != 3 {
		t.Fatalf("exchanges = %d, want 3", exchanges)
	}
}

func TestAcquirePropagatesAuthFailure(t *testing.T) {
	client := newFakePartnerClient()
	client.exchangeErr = &domain.AuthError{Reason: "invalid client credentials"}
	svc, _ := newTokenService(client)

	_, err := svc.Acquire(context.Background())
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}

	// A rejection is final; no retry.
	if exchanges, _ := client.counts(); exchanges != 1 {
		t.Fatalf("exchanges = %d, want 1", exchanges)
	}
}

func TestRefreshWithoutRefreshTokenSignalsReauth(t *testing.T) {
	client := newFakePartnerClient()
	svc, _ := newTokenService(client)

	// Nothing cached at all.
	err := svc.Refresh(context.Background())
	var expired *domain.TokenExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("err = %v, want TokenExpiredError", err)
	}

	// A client-credentials grant carries no refresh token; forcing a
	// refresh on it must signal re-authentication, not quietly exchange.
	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err = svc.Refresh(context.Background())
	if !errors.As(err, &expired) {
		t.Fatalf("err = %v, want TokenExpiredError", err)
	}
	if exchanges, _ := client.counts(); exchanges != 1 {
		t.Fatalf("exchanges = %d, want 1 (refresh fell back to exchange)", exchanges)
	}
}

func TestRefreshRejectedSignalsReauth(t *testing.T) {
	client := newFakePartnerClient()
	client.grant.RefreshToken = "refresh-1"
	svc, _ := newTokenService(client)

	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	client.mu.Lock()
	client.refreshErr = &domain.AuthError{Reason: "invalid refresh token"}
	client.mu.Unlock()

	err := svc.Refresh(context.Background())
	var expired *domain.TokenExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("err = %v, want TokenExpiredError", err)
	}
}

func TestRefreshUsesRefreshGrant(t *testing.T) {
	client := newFakePartnerClient()
	client.grant.RefreshToken = "refresh-1"
	svc, _ := newTokenService(client)

	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	client.mu.Lock()
	refreshes := client.refreshes
	client.mu.Unlock()
	if refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes)
	}
	if exchanges, _ := client.counts(); exchanges != 1 {
		t.Fatalf("exchanges = %d, want 1", exchanges)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	client := newFakePartnerClient()
	svc, _ := newTokenService(client)

	// Revoking with nothing cached is a no-op success.
	if err := svc.Revoke(context.Background()); err != nil {
		t.Fatalf("revoke without token: %v", err)
	}

	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := svc.Revoke(context.Background()); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.Revoke(context.Background()); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	client.mu.Lock()
	revokes := client.revokes
	client.mu.Unlock()
	if revokes != 1 {
		t.Fatalf("upstream revokes = %d, want 1", revokes)
	}

	// A revoked token is not reused; the next acquire exchanges again.
	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after revoke: %v", err)
	}
	if exchanges, _ := client.counts(); exchanges != 2 {
		t.Fatalf("exchanges = %d, want 2", exchanges)
	}
}

func TestIntrospectWithoutToken(t *testing.T) {
	client := newFakePartnerClient()
	svc, _ := newTokenService(client)

	_, err := svc.Introspect(context.Background())
	var expired *domain.TokenExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("err = %v, want TokenExpiredError", err)
	}
}
