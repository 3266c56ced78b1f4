// Package poller detects store mutations by polling and turns them into
// change events.
//
// This file implements the dedup cache shared by the listeners: a bounded
// in-memory record of already-notified change identities that keeps
// overlapping poll windows from re-emitting the same change.
package poller

import "sync"

// DefaultDedupCapacity bounds the dedup cache. Only recent history is needed
// to dedup against overlapping poll windows; FIFO eviction past the bound
// trades a statistically negligible chance of re-notifying a very old row
// for bounded memory.
const DefaultDedupCapacity = 5000

// DedupCache is a bounded FIFO record of already-notified change keys.
// Entries are write-once; Add is idempotent.
type DedupCache struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

// NewDedupCache creates a cache with the given capacity. A non-positive
// capacity falls back to DefaultDedupCapacity.
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupCache{
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// Has reports whether the key has already been notified.
func (c *DedupCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return ok
}

// Add records a key, evicting the oldest entries once the capacity is
// exceeded. Adding an existing key is a no-op.
func (c *DedupCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.order = append(c.order, key)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
}

// Len reports the number of cached keys.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
