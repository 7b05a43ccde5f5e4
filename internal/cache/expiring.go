// Package cache provides the in-process TTL cache used across the market-data
// and scheduling layers, plus the Redis-backed persisted tier.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is owned exclusively by Expiring and never handed out
type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

// Expiring is a thread-safe key-value cache with a per-entry TTL and a
// bounded size. When the bound is reached the oldest-inserted entry is
// evicted first (insertion order, not LRU - re-setting a key refreshes its
// insertion position).
type Expiring[T any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest insertion
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewExpiring creates a cache with the given TTL and maximum entry count.
// maxEntries <= 0 means unbounded.
func NewExpiring[T any](ttl time.Duration, maxEntries int) *Expiring[T] {
	return &Expiring[T]{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests
func (c *Expiring[T]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the value for key if present and unexpired. An expired entry
// is evicted lazily on access.
func (c *Expiring[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[T])
	if c.now().After(ent.expiresAt) {
		c.removeLocked(el)
		return zero, false
	}
	return ent.value, true
}

// Set inserts or overwrites key with expiry now+ttl. If the cache is full,
// the oldest-inserted entry is evicted first.
func (c *Expiring[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}

	if c.maxEntries > 0 {
		for len(c.entries) >= c.maxEntries {
			oldest := c.order.Front()
			if oldest == nil {
				break
			}
			c.removeLocked(oldest)
		}
	}

	el := c.order.PushBack(&entry[T]{key: key, value: value, expiresAt: c.now().Add(c.ttl)})
	c.entries[key] = el
}

// Has reports whether key is present and unexpired, without evicting
func (c *Expiring[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	return !c.now().After(el.Value.(*entry[T]).expiresAt)
}

// Size returns the current entry count, including not-yet-evicted expired entries
func (c *Expiring[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes everything
func (c *Expiring[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Delete removes a single key if present
func (c *Expiring[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

func (c *Expiring[T]) removeLocked(el *list.Element) {
	ent := el.Value.(*entry[T])
	c.order.Remove(el)
	delete(c.entries, ent.key)
}
