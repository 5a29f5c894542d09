// ABOUTME: Thread-safe TTL set for recognising already-delivered message ids.
// ABOUTME: Used by widget sessions and the Matrix bridge to drop echoed and redelivered messages.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Cache remembers keys for a TTL, bounded by maxSize. Entries are kept in
// last-seen order so both expiry and eviction pop from the front.
// Expired entries are pruned lazily on writes; no background goroutine runs.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache using the wall clock.
func New(ttl time.Duration, maxSize int) *Cache {
	return NewWithClock(ttl, maxSize, time.Now)
}

// NewWithClock creates a cache that reads time from now.
func NewWithClock(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Seen reports whether key was recorded within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now())
}

// Add records key as seen now.
func (c *Cache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(key, c.now())
}

// Observe atomically checks and records key. It returns true when key was
// already seen within the TTL (a duplicate) and false for a first sighting.
func (c *Cache) Observe(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dup := c.liveLocked(key, now)
	c.addLocked(key, now)
	return dup
}

// Len returns the number of keys currently retained, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) liveLocked(key string, now time.Time) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	return now.Sub(el.Value.(*entry).seen) < c.ttl
}

func (c *Cache) addLocked(key string, now time.Time) {
	c.pruneLocked(now)

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seen = now
		c.order.MoveToBack(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seen: now})
}

func (c *Cache) pruneLocked(now time.Time) {
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < c.ttl {
			return
		}
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}
