// ABOUTME: Tests for the server-side rate limiters
// ABOUTME: Redis tests run only when NEXCART_TEST_REDIS_ADDR points at a server

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AllowsBurstThenBlocks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(10, time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := m.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, _ := m.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	ok, _ = m.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "other clients are independent")

	now = now.Add(6 * time.Second)
	ok, _ = m.Allow(ctx, "1.2.3.4")
	assert.True(t, ok, "one token refills every window/limit")
}

func TestMemory_SweepsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(2, time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Allow(ctx, "a")
	now = now.Add(2 * time.Minute)
	m.Allow(ctx, "b")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.buckets, "a")
	assert.Contains(t, m.buckets, "b")
}

func TestRedis_FixedWindow(t *testing.T) {
	addr := os.Getenv("NEXCART_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NEXCART_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	r := NewRedis(client, "nexcart:test:rl:"+uuid.NewString()+":", 3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := r.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := r.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, ok)
}
