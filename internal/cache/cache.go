// Package cache provides a bounded generic key-value cache with hybrid
// recency/frequency eviction. It is used for the engine's tokenization
// and embedding memos, where a hot entry must survive even when it sits
// near the cold end of the recency order.
package cache

import (
	"container/list"
	"fmt"
	"math"
	"sync"
	"time"
)

// evictionWindow is the number of least-recently-used entries scanned
// when the cache is full. Only entries inside the window are eviction
// candidates; the one with the lowest hybrid score loses.
const evictionWindow = 5

// entry is a single cache slot. frequency counts reads, not writes:
// inserting starts at 1 and updating an existing key leaves it alone,
// so a value that is written often but never read back stays cheap to
// evict.
type entry[K comparable, V any] struct {
	key        K
	value      V
	frequency  int
	lastAccess time.Time
}

// Cache is a bounded key-value cache safe for concurrent use. Lookup is
// O(1) through a hash map; recency order is a doubly-linked list with
// the most recently accessed entry at the front.
//
// Eviction is not pure LRU. When full, the tail window is scored by
//
//	log(frequency+1) * 1/(1+minutesSinceAccess)
//
// and the lowest-scoring entry is removed. This resists evicting a
// frequently-reused entry merely because it was accessed slightly
// longer ago than its neighbors; with no reads the scores tie and the
// cache degrades to ordinary LRU.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[K]*list.Element

	// clock is swapped out by tests to control the recency term.
	clock func() time.Time
}

// New creates a cache bounded to capacity entries.
func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	return &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
		clock:    time.Now,
	}, nil
}

// Get returns the value for key if present. A hit counts as a use: it
// increments the entry's frequency and refreshes its recency.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	ent.frequency++
	ent.lastAccess = c.clock()
	c.order.MoveToFront(el)
	return ent.value, true
}

// Set stores value under key. Updating an existing key refreshes its
// value and recency but keeps the accumulated frequency, so a hot entry
// does not lose its eviction protection on rewrite. Inserting into a
// full cache evicts one entry first.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.lastAccess = c.clock()
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evict()
	}
	ent := &entry[K, V]{
		key:        key,
		value:      value,
		frequency:  1,
		lastAccess: c.clock(),
	}
	c.items[key] = c.order.PushFront(ent)
}

// Contains reports whether key is cached without touching frequency or
// recency.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Len returns the current number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Cap returns the configured capacity.
func (c *Cache[K, V]) Cap() int {
	return c.capacity
}

// Purge drops all entries.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}

// evict removes the lowest-scoring entry among the last evictionWindow
// entries in recency order. Ties go to the least recently used, which
// keeps the pure-LRU behavior when no entry has been read.
// Caller holds c.mu.
func (c *Cache[K, V]) evict() {
	el := c.order.Back()
	if el == nil {
		return
	}
	now := c.clock()

	victim := el
	lowest := score(el.Value.(*entry[K, V]), now)
	for i := 1; i < evictionWindow; i++ {
		el = el.Prev()
		if el == nil {
			break
		}
		if s := score(el.Value.(*entry[K, V]), now); s < lowest {
			victim, lowest = el, s
		}
	}

	ent := victim.Value.(*entry[K, V])
	c.order.Remove(victim)
	delete(c.items, ent.key)
}

// score computes the hybrid eviction score. Higher means more worth
// keeping. Guarded against clocks that move backwards.
func score[K comparable, V any](ent *entry[K, V], now time.Time) float64 {
	minutes := now.Sub(ent.lastAccess).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	return math.Log(float64(ent.frequency)+1) / (1 + minutes)
}
