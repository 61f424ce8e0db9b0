// Package idempotency implements the kernel's submit_actions dedupe cache.
//
// spec.md §4.7/§9 requires that a repeated idempotency_key return the
// cached result verbatim with no new side effects, and documents a
// 100-tick flush as "a pragmatic bound, not a correctness requirement" —
// implementations may substitute a time-based or LRU policy as long as the
// §8 safety properties hold (a retry after the flush may or may not hit
// cache, but both paths must be safe).
//
// This cache is backed by github.com/patrickmn/go-cache, an
// expiry-aware concurrent map, rather than a hand-rolled map+mutex: it
// already gives TTL eviction and safe concurrent access, and the kernel
// still drives the documented tick-counted flush on top of it as the
// primary bound, with the TTL as a second line of defense against
// unbounded growth during a run with very few advance_tick calls.
package idempotency

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// defaultTTL bounds cache growth even if AdvanceTick is never called; 24h
// comfortably outlasts any run that is actually ticking.
const defaultTTL = 24 * time.Hour
const cleanupInterval = time.Hour

// Cache deduplicates submit_actions calls by idempotency key.
type Cache struct {
	c *cache.Cache
}

// New creates an empty idempotency cache.
func New() *Cache {
	return &Cache{c: cache.New(defaultTTL, cleanupInterval)}
}

// Get returns the cached result for key, if present.
func (c *Cache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}
	return c.c.Get(key)
}

// Set caches result under key.
func (c *Cache) Set(key string, result interface{}) {
	if key == "" {
		return
	}
	c.c.Set(key, result, cache.DefaultExpiration)
}

// Flush clears every cached entry. The kernel calls this every 100 ticks
// per spec.md §4.7.
func (c *Cache) Flush() {
	c.c.Flush()
}

// Len reports the number of cached entries, for diagnostics.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
