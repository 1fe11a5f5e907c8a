// Package cache memoises pipeline results keyed by request fingerprint.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkilian/framekit/pkg/types"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int64   `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	key       string
	frames    []*types.Frame
	expiresAt time.Time
}

// ResultCache is a bounded LRU of transformed frames. Cached frames are
// shared between callers and must be treated as read-only.
type ResultCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	ll         *list.List // front is most recently used
	items      map[string]*list.Element
	metrics    Metrics
	now        func() time.Time
}

// NewResultCache creates a cache holding at most maxEntries results.
// A zero ttl keeps entries until they are evicted.
func NewResultCache(maxEntries int, ttl time.Duration) (*ResultCache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be positive, got %d", maxEntries)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("ttl must not be negative, got %s", ttl)
	}
	return &ResultCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}, nil
}

// Get returns the cached frames for key.
func (c *ResultCache) Get(key string) ([]*types.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}
	e := el.Value.(*entry)
	if c.expired(e) {
		c.removeElement(el)
		c.metrics.Misses.Add(1)
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.metrics.Hits.Add(1)
	return e.frames, true
}

// Put stores frames under key, evicting the least recently used entry when full.
func (c *ResultCache) Put(key string, frames []*types.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.frames = frames
		e.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}

	c.items[key] = c.ll.PushFront(&entry{key: key, frames: frames, expiresAt: expiresAt})
	c.metrics.Entries.Add(1)

	for c.ll.Len() > c.maxEntries {
		c.removeElement(c.ll.Back())
		c.metrics.Evictions.Add(1)
	}
}

// Remove deletes key. It reports whether the key was present.
func (c *ResultCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear drops every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.metrics.Entries.Store(0)
}

// PurgeExpired drops expired entries and returns how many were removed.
func (c *ResultCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry)) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Snapshot returns current cache metrics.
func (c *ResultCache) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Hits:      c.metrics.Hits.Load(),
		Misses:    c.metrics.Misses.Load(),
		Evictions: c.metrics.Evictions.Load(),
		Entries:   c.metrics.Entries.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}

func (c *ResultCache) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

// removeElement must be called with c.mu held.
func (c *ResultCache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
	c.metrics.Entries.Add(-1)
}
