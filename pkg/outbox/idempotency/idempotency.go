// Package idempotency lets broker consumers of lifecycle events process each
// outbox event once, however often the broker redelivers it.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
	"github.com/angelmondragon/tableside-backend/pkg/redis"
)

// Manager records claims on delivered events using Redis SETNX with a TTL.
// Keys follow the `ts:idempotency:evt:<event_type>:<consumer>:<event_id>`
// pattern and hold the broker delivery id that claimed the event.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard whose claims expire after ttl. The
// ttl must outlive the broker's redelivery window.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// Claim reserves eventID for consumer. It reports false when an earlier
// delivery already claimed the event.
func (m *Manager) Claim(ctx context.Context, consumer string, eventType enums.OutboxEventType, eventID uuid.UUID, deliveryID string) (bool, error) {
	key, err := m.claimKey(consumer, eventType, eventID)
	if err != nil {
		return false, err
	}
	if deliveryID == "" {
		deliveryID = "unknown"
	}
	return m.store.SetNX(ctx, key, deliveryID, m.ttl)
}

// ClaimedBy returns the delivery id holding the claim, or "" when the event
// is unclaimed.
func (m *Manager) ClaimedBy(ctx context.Context, consumer string, eventType enums.OutboxEventType, eventID uuid.UUID) (string, error) {
	key, err := m.claimKey(consumer, eventType, eventID)
	if err != nil {
		return "", err
	}
	value, err := m.store.Get(ctx, key)
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return value, err
}

// Release drops the claim so the next redelivery processes the event again.
func (m *Manager) Release(ctx context.Context, consumer string, eventType enums.OutboxEventType, eventID uuid.UUID) error {
	key, err := m.claimKey(consumer, eventType, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) claimKey(consumer string, eventType enums.OutboxEventType, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if !eventType.IsValid() {
		return "", fmt.Errorf("unknown event type %q", eventType)
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:%s:%s", eventType, consumer)
	return m.store.IdempotencyKey(scope, eventID.String()), nil
}
