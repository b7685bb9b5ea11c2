package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/infrastructure/repository"
	"eats-partner-core/internal/infrastructure/ubereats"
	"eats-partner-core/internal/ports"

	"github.com/rs/zerolog"
)

const ingestSecret = "ingest-secret"

func newWebhookService() (*WebhookService, *repository.MemoryEventRepository, *ubereats.Verifier) {
	repo := repository.NewMemoryEventRepository()
	verifier := ubereats.NewVerifier(ingestSecret, 5*time.Minute)
	svc := NewWebhookService(repo, verifier, testMetrics(), zerolog.Nop())
	return svc, repo, verifier
}

func signedDelivery(verifier *ubereats.Verifier, eventID, eventType, resourceID string) (body []byte, sig, ts string) {
	body = []byte(fmt.Sprintf(
		`{"metadata":{"event_id":%q,"event_type":%q,"event_time":%d,"resource_id":%q},"data":{"id":%q,"store_id":"store-1"}}`,
		eventID, eventType, time.Now().Unix(), resourceID, resourceID,
	))
	ts = fmt.Sprintf("%d", time.Now().Unix())
	return body, verifier.Sign(body, ts), ts
}

func TestIngestRecordsEventOnce(t *testing.T) {
	svc, repo, verifier := newWebhookService()
	body, sig, ts := signedDelivery(verifier, "evt-1", "orders.notification", "order-1")

	result, err := svc.Ingest(context.Background(), body, sig, ts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.EventID != "evt-1" || result.Duplicate {
		t.Fatalf("result = %+v", result)
	}

	// The worker should have been nudged.
	select {
	case <-svc.Nudge():
	default:
		t.Fatal("no nudge after ingest")
	}

	events, err := repo.List(context.Background(), ports.EventListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("rows = %d, want 1", len(events))
	}
	if events[0].Status != domain.EventPending || events[0].Type != domain.EventOrderNotification {
		t.Fatalf("stored event = %+v", events[0])
	}
	if events[0].OrderID != "order-1" {
		t.Fatalf("order id = %q", events[0].OrderID)
	}
}

func TestIngestDuplicateAcknowledgedWithoutSecondRow(t *testing.T) {
	svc, repo, verifier := newWebhookService()
	body, sig, ts := signedDelivery(verifier, "evt-1", "orders.notification", "order-1")

	if _, err := svc.Ingest(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	result, err := svc.Ingest(context.Background(), body, sig, ts)
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}
	if !result.Duplicate || result.EventID != "evt-1" {
		t.Fatalf("result = %+v", result)
	}

	events, _ := repo.List(context.Background(), ports.EventListFilter{})
	if len(events) != 1 {
		t.Fatalf("rows = %d, want 1", len(events))
	}
}

func TestIngestRejectsBadSignatureWithoutRecording(t *testing.T) {
	svc, repo, _ := newWebhookService()
	other := ubereats.NewVerifier("wrong-secret", 5*time.Minute)
	body, sig, ts := signedDelivery(other, "evt-1", "orders.notification", "order-1")

	_, err := svc.Ingest(context.Background(), body, sig, ts)
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}

	events, _ := repo.List(context.Background(), ports.EventListFilter{})
	if len(events) != 0 {
		t.Fatalf("rows = %d, want 0", len(events))
	}
}

func TestIngestRejectsMissingEventID(t *testing.T) {
	svc, repo, verifier := newWebhookService()

	body := []byte(`{"metadata":{"event_type":"orders.notification"},"data":{}}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := verifier.Sign(body, ts)

	_, err := svc.Ingest(context.Background(), body, sig, ts)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	events, _ := repo.List(context.Background(), ports.EventListFilter{})
	if len(events) != 0 {
		t.Fatalf("rows = %d, want 0", len(events))
	}
}

func TestIngestUnknownTypeStoredFailedButAcked(t *testing.T) {
	svc, repo, verifier := newWebhookService()
	body, sig, ts := signedDelivery(verifier, "evt-1", "orders.exploded", "order-1")

	result, err := svc.Ingest(context.Background(), body, sig, ts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.EventID != "evt-1" {
		t.Fatalf("result = %+v", result)
	}

	events, _ := repo.List(context.Background(), ports.EventListFilter{})
	if len(events) != 1 {
		t.Fatalf("rows = %d, want 1", len(events))
	}
	if events[0].Status != domain.EventFailed || events[0].LastError == "" {
		t.Fatalf("stored event = %+v", events[0])
	}
}

func TestRetryEventRequeuesFailed(t *testing.T) {
	svc, repo, verifier := newWebhookService()
	body, sig, ts := signedDelivery(verifier, "evt-1", "orders.notification", "order-1")

	if _, err := svc.Ingest(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	events, _ := repo.List(context.Background(), ports.EventListFilter{})
	id := events[0].ID

	if err := repo.MarkFailed(context.Background(), id, 8, "retries exhausted"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	requeued, err := svc.RetryEvent(context.Background(), id, true)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if requeued.Status != domain.EventPending || requeued.Attempts != 0 {
		t.Fatalf("requeued = %+v", requeued)
	}
}

func TestRetryEventRejectsProcessed(t *testing.T) {
	svc, repo, verifier := newWebhookService()
	body, sig, ts := signedDelivery(verifier, "evt-1", "orders.notification", "order-1")

	if _, err := svc.Ingest(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	events, _ := repo.List(context.Background(), ports.EventListFilter{})
	id := events[0].ID

	if err := repo.MarkProcessed(context.Background(), id, 1, time.Now()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	_, err := svc.RetryEvent(context.Background(), id, false)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestRetryEventRejectsUnknownType(t *testing.T) {
	svc, repo, verifier := newWebhookService()
	body, sig, ts := signedDelivery(verifier, "evt-1", "orders.exploded", "order-1")

	if _, err := svc.Ingest(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	events, _ := repo.List(context.Background(), ports.EventListFilter{})

	_, err := svc.RetryEvent(context.Background(), events[0].ID, false)
	var unknown *domain.UnknownEventTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownEventTypeError", err)
	}
}
