// Package cache provides a generic in-memory TTL cache.
// The harvester uses it to reuse link-validation verdicts: candidates for the
// same URL often surface from several sources within minutes, and re-probing
// the live site each time would burn rate-limit budget for no new signal.
//
// Not intended for scrape payloads (too large) or breaker state (has its own
// registry with different transition rules).
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the default time-to-live for cache entries. Fifteen minutes
// matches the reuse window for validation verdicts: long enough to absorb a
// burst of duplicate candidates, short enough that a link fixed upstream is
// re-probed within the same scheduling cycle.
const DefaultTTL = 15 * time.Minute

// DefaultMaxEntries is the default maximum number of cache entries.
const DefaultMaxEntries = 4096

// Options configures a Cache instance.
type Options struct {
	// TTL is the per-entry lifetime. Zero uses DefaultTTL.
	TTL time.Duration

	// MaxEntries caps residency before eviction. Zero uses DefaultMaxEntries.
	MaxEntries int
}

// Stats reports cache effectiveness counters. Hits and Misses count Get
// calls; an expired entry counts as a miss.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// item pairs a cached value with its expiry deadline.
type item[V any] struct {
	value    V
	deadline time.Time
}

// Cache is a generic in-memory cache with TTL expiry and a residency cap.
// At capacity, expired items are pruned first; if the cache is still full,
// the oldest item by insertion order is evicted.
//
// Counter updates make every operation a writer, so a plain Mutex guards
// the whole cache.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]item[V]
	// age holds keys oldest-first; Set appends, eviction pops the head.
	age        []K
	ttl        time.Duration
	maxEntries int
	stats      Stats
}

// New creates a Cache. Zero-value TTL and MaxEntries fall back to the
// package defaults.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	max := opts.MaxEntries
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Cache[K, V]{
		items:      make(map[K]item[V]),
		ttl:        ttl,
		maxEntries: max,
	}
}

// Get returns the live value for key. Missing or expired keys return the
// zero value and false; expired items are removed on access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	it, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if time.Now().After(it.deadline) {
		c.drop(key)
		c.stats.Misses++
		return zero, false
	}
	c.stats.Hits++
	return it.value, true
}

// Set stores value under key with a fresh TTL. An existing key is refreshed
// in place and keeps its slot in the age order.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := item[V]{value: value, deadline: time.Now().Add(c.ttl)}

	if _, exists := c.items[key]; exists {
		c.items[key] = it
		return
	}

	if len(c.items) >= c.maxEntries {
		c.prune()
	}
	if len(c.items) >= c.maxEntries {
		c.evictOldest()
	}

	c.items[key] = it
	c.age = append(c.age, key)
}

// Delete removes key. Absent keys are a no-op.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop(key)
}

// Clear removes every item. Counters are kept; Clear marks a deliberate
// invalidation, not a fresh cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]item[V])
	c.age = c.age[:0]
}

// Len reports current residency, counting expired items not yet pruned.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// TTL returns the configured per-entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Stats returns a snapshot of the effectiveness counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Entries = len(c.items)
	return st
}

// drop removes key from the map and its slot in the age order.
// Caller holds mu.
func (c *Cache[K, V]) drop(key K) {
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.age {
		if k == key {
			c.age = append(c.age[:i], c.age[i+1:]...)
			break
		}
	}
}

// prune discards every expired item, compacting the age order in place.
// Caller holds mu.
func (c *Cache[K, V]) prune() {
	now := time.Now()
	kept := c.age[:0]
	for _, k := range c.age {
		if it, ok := c.items[k]; ok && now.After(it.deadline) {
			delete(c.items, k)
		} else {
			kept = append(kept, k)
		}
	}
	c.age = kept
}

// evictOldest discards the item at the head of the age order.
// Caller holds mu.
func (c *Cache[K, V]) evictOldest() {
	if len(c.age) == 0 {
		return
	}
	head := c.age[0]
	c.age = c.age[1:]
	delete(c.items, head)
	c.stats.Evictions++
}
