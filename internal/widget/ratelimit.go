// ABOUTME: Per-session sliding counter that gates outbound message submission
// ABOUTME: Each attempt holds one unit of budget for a full window, released by a clock timer

package widget

import (
	"sync"
	"time"
)

// Default submission budget.
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

// RateLimiter counts outstanding submission attempts. Every attempt,
// including a blocked one, takes a unit that is released one window later,
// so a visitor who keeps trying while blocked stays blocked until they pause.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  Clock
	count  int
}

// NewRateLimiter creates a limiter allowing limit attempts per window.
func NewRateLimiter(limit int, window time.Duration, clock Clock) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimiter{limit: limit, window: window, clock: clock}
}

// Allow records an attempt and reports whether it is within budget.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	r.count++
	allowed := r.count <= r.limit
	r.mu.Unlock()

	r.clock.AfterFunc(r.window, r.release)
	return allowed
}

// Outstanding returns the number of attempts still inside the window.
func (r *RateLimiter) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *RateLimiter) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count > 0 {
		r.count--
	}
}
