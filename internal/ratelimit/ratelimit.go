// ABOUTME: Server-side per-client request limits for the visitor chat endpoints
// ABOUTME: In-memory token buckets for a single gateway, Redis counters when several share load

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory keeps one token bucket per key. Idle buckets are dropped lazily.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory allows limit requests per window for each key, refilling evenly.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from key's bucket.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(m.window/time.Duration(m.limit)), m.limit)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// sweepLocked forgets buckets idle for a full window; they would be full again anyway.
func (m *Memory) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < m.window {
		return
	}
	m.lastSweep = now
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) >= m.window {
			delete(m.buckets, k)
		}
	}
}

// Redis counts requests per key in fixed windows shared by every gateway.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewRedis creates a limiter that stores counters under prefix.
func NewRedis(client *redis.Client, prefix string, limit int, window time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		logger: logger.With("component", "ratelimit"),
	}
}

// Allow increments key's counter for the current window.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.prefix + key

	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, r.window).Err(); err != nil {
			return false, err
		}
	}

	if n > int64(r.limit) {
		r.logger.Debug("rate limit exceeded", "key", key, "count", n)
		return false, nil
	}
	return true, nil
}
