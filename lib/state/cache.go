// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import "sync"

// DefaultCacheSize is the entry bound used when NewCache is given a
// non-positive size. Each entry is one resolved snapshot, typically a
// few dozen slot/ID pairs.
const DefaultCacheSize = 256

// Cache is a bounded, concurrency-safe memo of resolved snapshots
// keyed by extremity-set fingerprint. When full, the oldest entry is
// evicted: admission traffic keys almost entirely off the current
// frontier, so recency tracking buys nothing over insertion order.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[Fingerprint]ResolvedState
	order   []Fingerprint
}

// NewCache creates a cache bounded to max entries (DefaultCacheSize
// if max is not positive).
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:     max,
		entries: make(map[Fingerprint]ResolvedState, max),
	}
}

// Get returns a copy of the cached snapshot for the fingerprint.
// Callers own the returned map and may mutate it freely.
func (c *Cache) Get(key Fingerprint) (ResolvedState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return cached.Clone(), true
}

// Put stores a copy of the snapshot under the fingerprint, evicting
// the oldest entry when the cache is full. Re-putting an existing key
// replaces the snapshot without refreshing its age.
func (c *Cache) Put(key Fingerprint, resolved ResolvedState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = resolved.Clone()
		return
	}
	if len(c.entries) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = resolved.Clone()
	c.order = append(c.order, key)
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
