package application

import (
	"context"
	"errors"
	"sync"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/metrics"
	"eats-partner-core/internal/ports"
)

// fakePartnerClient records calls and fails on demand.
type fakePartnerClient struct {
	mu sync.Mutex

	exchanges  int
	refreshes  int
	revokes    int
	accepts    []string
	denies     []string
	readies    []string
	cancels    []string
	quotes     []string
	deliveries []string

	grant            *ports.TokenGrant
	exchangeErr      error
	exchangeFailNext int
	refreshErr       error
	orderCallErr     error
	failNext         int
}

func newFakePartnerClient() *fakePartnerClient {
	return &fakePartnerClient{
		grant: &ports.TokenGrant{
			AccessToken: "access-1",
			TokenType:   "Bearer",
			Scope:       "eats.store eats.order eats.report",
			ExpiresIn:   3600,
		},
	}
}

func (f *fakePartnerClient) ExchangeClientCredentials(ctx context.Context, scopes []string) (*ports.TokenGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	if f.exchangeFailNext > 0 {
		f.exchangeFailNext--
		return nil, &domain.TransientDependencyError{Op: "token exchange", Err: errors.New("upstream 503")}
	}
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	g := *f.grant
	return &g, nil
}

func (f *fakePartnerClient) RefreshToken(ctx context.Context, refreshToken string) (*ports.TokenGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	g := *f.grant
	return &g, nil
}

func (f *fakePartnerClient) RevokeToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes++
	return nil
}

func (f *fakePartnerClient) IntrospectToken(ctx context.Context, token string) (*domain.TokenIntrospection, error) {
	return &domain.TokenIntrospection{Active: true}, nil
}

// orderCall applies the configured failure schedule to one outbound call.
func (f *fakePartnerClient) orderCall(record *[]string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return &domain.TransientDependencyError{Op: "partner call", Err: errors.New("upstream 503")}
	}
	if f.orderCallErr != nil {
		return f.orderCallErr
	}
	*record = append(*record, orderID)
	return nil
}

func (f *fakePartnerClient) AcceptOrder(ctx context.Context, accessToken, orderID string, etaMinutes int, reason string) error {
	return f.orderCall(&f.accepts, orderID)
}

func (f *fakePartnerClient) DenyOrder(ctx context.Context, accessToken, orderID string, reason domain.CancelReason, explanation string) error {
	return f.orderCall(&f.denies, orderID)
}

func (f *fakePartnerClient) MarkOrderReady(ctx context.Context, accessToken, orderID string) error {
	return f.orderCall(&f.readies, orderID)
}

func (f *fakePartnerClient) CancelOrder(ctx context.Context, accessToken, orderID string, reason domain.CancelReason, details string) error {
	return f.orderCall(&f.cancels, orderID)
}

func (f *fakePartnerClient) CreateDeliveryQuote(ctx context.Context, accessToken, orderID string) (*domain.DeliveryQuote, error) {
	if err := f.orderCall(&f.quotes, orderID); err != nil {
		return nil, err
	}
	return &domain.DeliveryQuote{ID: "quote-1", OrderID: orderID, FeeCents: 499, EstimatedMinutes: 25}, nil
}

func (f *fakePartnerClient) CreateDelivery(ctx context.Context, accessToken, orderID, quoteID string) (*domain.Delivery, error) {
	if err := f.orderCall(&f.deliveries, orderID); err != nil {
		return nil, err
	}
	return &domain.Delivery{ID: "delivery-1", OrderID: orderID, Status: "scheduled"}, nil
}

func (f *fakePartnerClient) counts() (exchanges, accepts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges, len(f.accepts)
}

// nopBroker satisfies ports.EventBroker for tests that don't watch streams.
type nopBroker struct{}

func (nopBroker) Subscribe(topic string) chan domain.StreamEvent {
	return make(chan domain.StreamEvent, 1)
}
func (nopBroker) Unsubscribe(topic string, ch chan domain.StreamEvent) {}
func (nopBroker) Publish(topic string, evt domain.StreamEvent)         {}

func testMetrics() *metrics.Metrics { return metrics.New() }
