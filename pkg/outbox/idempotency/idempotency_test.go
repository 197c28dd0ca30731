package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	getValue    string
	getError    error
	lastKey     string
	lastValue   any
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.lastKey = key
	return f.getValue, f.getError
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastValue = value
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "ts:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestClaimFirstDelivery(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	eventID := uuid.New()
	claimed, err := manager.Claim(context.Background(), "billing-settlement", enums.EventPaymentValidated, eventID, "msg-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first delivery to claim the event")
	}

	expectedKey := "ts:idempotency:evt:payment_validated:billing-settlement:" + eventID.String()
	if store.lastKey != expectedKey {
		t.Fatalf("unexpected key: %q", store.lastKey)
	}
	if store.lastValue != "msg-1" {
		t.Fatalf("expected delivery id stored, got %v", store.lastValue)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", store.lastTTL)
	}
}

func TestClaimRedelivery(t *testing.T) {
	store := &fakeStore{setNXResult: false}
	manager, err := NewManager(store, 12*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	claimed, err := manager.Claim(context.Background(), "billing-settlement", enums.EventPaymentValidated, uuid.New(), "msg-2")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed {
		t.Fatalf("expected redelivery to be rejected")
	}
}

func TestClaimRejectsBadInput(t *testing.T) {
	manager, err := NewManager(&fakeStore{setNXResult: true}, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if _, err := manager.Claim(ctx, "", enums.EventPaymentValidated, uuid.New(), "m"); err == nil {
		t.Fatal("expected missing consumer error")
	}
	if _, err := manager.Claim(ctx, "billing-settlement", "payment_refunded", uuid.New(), "m"); err == nil {
		t.Fatal("expected unknown event type error")
	}
	if _, err := manager.Claim(ctx, "billing-settlement", enums.EventPaymentValidated, uuid.Nil, "m"); err == nil {
		t.Fatal("expected missing event id error")
	}
}

func TestClaimStoreError(t *testing.T) {
	store := &fakeStore{setNXError: errors.New("boom")}
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, err = manager.Claim(context.Background(), "billing-settlement", enums.EventPaymentValidated, uuid.New(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if store.lastValue != "unknown" {
		t.Fatalf("expected placeholder delivery id, got %v", store.lastValue)
	}
}

func TestClaimedBy(t *testing.T) {
	store := &fakeStore{getValue: "msg-7"}
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	holder, err := manager.ClaimedBy(context.Background(), "billing-settlement", enums.EventPaymentValidated, uuid.New())
	if err != nil || holder != "msg-7" {
		t.Fatalf("ClaimedBy = %q, %v", holder, err)
	}

	store.getValue, store.getError = "", goredis.Nil
	holder, err = manager.ClaimedBy(context.Background(), "billing-settlement", enums.EventPaymentValidated, uuid.New())
	if err != nil || holder != "" {
		t.Fatalf("expected unclaimed event, got %q, %v", holder, err)
	}
}

func TestRelease(t *testing.T) {
	store := &fakeStore{}
	manager, err := NewManager(store, 1*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	eventID := uuid.New()
	if err := manager.Release(context.Background(), "billing-settlement", enums.EventPaymentValidated, eventID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	expected := "ts:idempotency:evt:payment_validated:billing-settlement:" + eventID.String()
	if store.lastDeleted != expected {
		t.Fatalf("unexpected deleted key %q", store.lastDeleted)
	}
}
