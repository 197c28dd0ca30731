package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
}

func newMemoryStore() *memoryStore { return &memoryStore{values: map[string]string{}} }

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryStore) LockKey(name string) string { return "lock:" + name }

func TestRedisLockIsExclusive(t *testing.T) {
	store := newMemoryStore()
	first, err := NewRedisLock(store, "cron", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "cron", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, second.Release(context.Background()))
	require.Contains(t, store.values, "lock:cron")

	require.NoError(t, first.Release(context.Background()))
	require.NotContains(t, store.values, "lock:cron")
}

func TestRedisLockDoesNotReleaseSuccessor(t *testing.T) {
	store := newMemoryStore()
	lock, err := NewRedisLock(store, "cron", time.Minute)
	require.NoError(t, err)
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// TTL expired and another replica took over
	store.values["lock:cron"] = "successor"
	require.NoError(t, lock.Release(context.Background()))
	require.Equal(t, "successor", store.values["lock:cron"])
}
