package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/infrastructure/repository"

	"github.com/rs/zerolog"
)

const acceptanceWindow = 11*time.Minute + 30*time.Second

func newOrderService(client *fakePartnerClient) (*OrderService, *repository.MemoryOrderRepository) {
	repo := repository.NewMemoryOrderRepository()
	tokens := NewTokenService(repository.NewMemoryTokenRepository(), client, testScopes, testMetrics(), zerolog.Nop())
	gateway := NewPartnerGateway(client, tokens, zerolog.Nop())
	svc := NewOrderService(repo, gateway, nopBroker{}, testMetrics(), acceptanceWindow, zerolog.Nop())
	return svc, repo
}

func TestCreateFromNotificationIdempotent(t *testing.T) {
	svc, _ := newOrderService(newFakePartnerClient())
	placedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	order, err := svc.CreateFromNotification(context.Background(), "order-1", "store-1", placedAt, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Status != domain.OrderPending || order.Version != 1 {
		t.Fatalf("order = %+v", order)
	}

	again, err := svc.CreateFromNotification(context.Background(), "order-1", "store-1", placedAt, nil)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if again.Version != 1 {
		t.Fatalf("duplicate create bumped version to %d", again.Version)
	}
}

func TestAcceptNotifiesPartnerAndPersists(t *testing.T) {
	client := newFakePartnerClient()
	svc, repo := newOrderService(client)
	placedAt := time.Now()

	if _, err := svc.CreateFromNotification(context.Background(), "order-1", "store-1", placedAt, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	order, err := svc.Accept(context.Background(), "order-1", 25, "busy evening")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if order.Status != domain.OrderAccepted || order.Version != 2 {
		t.Fatalf("order = %+v", order)
	}
	if _, accepts := client.counts(); accepts != 1 {
		t.Fatalf("partner accepts = %d, want 1", accepts)
	}

	stored, err := repo.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.OrderAccepted {
		t.Fatalf("persisted status = %s", stored.Status)
	}
}

func TestAcceptRequiresPositiveETA(t *testing.T) {
	svc, _ := newOrderService(newFakePartnerClient())

	_, err := svc.Accept(context.Background(), "order-1", 0, "")
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestTransientPartnerFailureLeavesOrderUnchanged(t *testing.T) {
	client := newFakePartnerClient()
	svc, repo := newOrderService(client)

	if _, err := svc.CreateFromNotification(context.Background(), "order-1", "store-1", time.Now(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	client.mu.Lock()
	client.failNext = 1
	client.mu.Unlock()

	_, err := svc.Accept(context.Background(), "order-1", 20, "")
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}

	stored, _ := repo.Get(context.Background(), "order-1")
	if stored.Status != domain.OrderPending || stored.Version != 1 {
		t.Fatalf("order mutated despite failed notification: %+v", stored)
	}

	// Retry succeeds and lands exactly one transition.
	order, err := svc.Accept(context.Background(), "order-1", 20, "")
	if err != nil {
		t.Fatalf("retry accept: %v", err)
	}
	if order.Status != domain.OrderAccepted || order.Version != 2 {
		t.Fatalf("order = %+v", order)
	}
}

func TestIllegalOperatorTransition(t *testing.T) {
	svc, _ := newOrderService(newFakePartnerClient())

	if _, err := svc.CreateFromNotification(context.Background(), "order-1", "store-1", time.Now(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Ready straight from PENDING skips ACCEPTED and PREPARING.
	_, err := svc.MarkReady(context.Background(), "order-1")
	var illegal *domain.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}
}

func TestSweepTimesOutExpiredPending(t *testing.T) {
	client := newFakePartnerClient()
	svc, repo := newOrderService(client)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.CreateFromNotification(context.Background(), "order-old", "store-1", base.Add(-acceptanceWindow-time.Minute), nil); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if _, err := svc.CreateFromNotification(context.Background(), "order-fresh", "store-1", base.Add(-time.Minute), nil); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	timedOut, err := svc.SweepAcceptanceWindow(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if timedOut != 1 {
		t.Fatalf("timed out = %d, want 1", timedOut)
	}

	old, _ := repo.Get(context.Background(), "order-old")
	if old.Status != domain.OrderFailed || old.FailureReason != domain.FailureReasonTimeout {
		t.Fatalf("old order = %+v", old)
	}
	fresh, _ := repo.Get(context.Background(), "order-fresh")
	if fresh.Status != domain.OrderPending {
		t.Fatalf("fresh order = %+v", fresh)
	}

	// The timeout is local bookkeeping, not a partner notification.
	if _, accepts := client.counts(); accepts != 0 {
		t.Fatal("sweep called the partner")
	}

	// Sweep again: nothing left to time out.
	timedOut, err = svc.SweepAcceptanceWindow(context.Background())
	if err != nil || timedOut != 0 {
		t.Fatalf("second sweep = %d, %v", timedOut, err)
	}
}

func TestSweepMeasuresScheduledOrdersFromFireTime(t *testing.T) {
	client := newFakePartnerClient()
	svc, repo := newOrderService(client)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	// Notified yesterday, fires tomorrow: not the sweep's business yet.
	fireAt := base.Add(24 * time.Hour)
	if _, err := svc.CreateFromNotification(context.Background(), "order-tomorrow", "store-1", base.Add(-24*time.Hour), &fireAt); err != nil {
		t.Fatalf("create scheduled: %v", err)
	}

	// Fire time passed the whole window ago: fair game.
	lapsedAt := base.Add(-acceptanceWindow - time.Minute)
	if _, err := svc.CreateFromNotification(context.Background(), "order-lapsed", "store-1", base.Add(-48*time.Hour), &lapsedAt); err != nil {
		t.Fatalf("create lapsed: %v", err)
	}

	timedOut, err := svc.SweepAcceptanceWindow(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if timedOut != 1 {
		t.Fatalf("timed out = %d, want 1", timedOut)
	}

	tomorrow, _ := repo.Get(context.Background(), "order-tomorrow")
	if tomorrow.Status != domain.OrderPending {
		t.Fatalf("scheduled order swept: %+v", tomorrow)
	}
	lapsed, _ := repo.Get(context.Background(), "order-lapsed")
	if lapsed.Status != domain.OrderFailed || lapsed.FailureReason != domain.FailureReasonTimeout {
		t.Fatalf("lapsed order = %+v", lapsed)
	}
}

func TestStaleEventVersionSurfaces(t *testing.T) {
	svc, _ := newOrderService(newFakePartnerClient())

	if _, err := svc.CreateFromNotification(context.Background(), "order-1", "store-1", time.Now(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Accept(context.Background(), "order-1", 20, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err := svc.ApplyAction(context.Background(), "order-1", domain.Action{
		Type:         domain.ActionCancel,
		Origin:       domain.OriginPartner,
		Reason:       domain.CancelOther,
		OrderVersion: 1,
	})
	if !errors.Is(err, domain.ErrStaleVersion) {
		t.Fatalf("err = %v, want ErrStaleVersion", err)
	}
}
