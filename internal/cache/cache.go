// Package cache holds normalized resource status keyed by ResourceKey, with a
// per-entry TTL. It is the only shared mutable state in the core; fetchers,
// the dispatcher and watchers mutate it, presentation layers never do.
package cache

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/kube9/statuscore/internal/types"
)

// Entry is one cached status value. Value is never handed to a Get caller
// once now - FetchedAt exceeds TTL; GetStaleIfPresent is the explicit opt-in
// for the error-path fallback.
type Entry struct {
	Key       types.ResourceKey
	Value     types.NormalizedStatus
	FetchedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry is still within its TTL at the given time.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) <= e.TTL
}

// Stats is a point-in-time summary for the stats endpoint.
type Stats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	StaleServes int64 `json:"staleServes"`
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clock   clock.PassiveClock

	hits        int64
	misses      int64
	staleServes int64
}

func New(c clock.PassiveClock) *Cache {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Cache{
		entries: make(map[string]Entry),
		clock:   c,
	}
}

// Get returns the entry for key if present and fresh. An expired entry counts
// as absent; callers wanting it must use GetStaleIfPresent.
func (c *Cache) Get(key types.ResourceKey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.String()]
	if !ok || !entry.Fresh(c.clock.Now()) {
		c.misses++
		return Entry{}, false
	}
	c.hits++
	return entry, true
}

// GetStaleIfPresent returns the most recent value regardless of freshness.
// Error-path fallback only.
func (c *Cache) GetStaleIfPresent(key types.ResourceKey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.String()]
	if ok {
		c.staleServes++
	}
	return entry, ok
}

// Put stores or overwrites the value for key, resetting FetchedAt to now.
// A non-positive TTL means the kind is not cached and Put is a no-op.
func (c *Cache) Put(key types.ResourceKey, value types.NormalizedStatus, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key.String()] = Entry{
		Key:       key,
		Value:     value,
		FetchedAt: c.clock.Now(),
		TTL:       ttl,
	}
}

// Invalidate removes every entry whose key matches the predicate and returns
// the number removed.
func (c *Cache) Invalidate(match func(types.ResourceKey) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, entry := range c.entries {
		if match(entry.Key) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// InvalidateKey removes the exact entry for key.
func (c *Cache) InvalidateKey(key types.ResourceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := key.String()
	if _, ok := c.entries[s]; !ok {
		return false
	}
	delete(c.entries, s)
	return true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:     len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		StaleServes: c.staleServes,
	}
}
