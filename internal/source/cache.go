package source

import (
	"sync"
	"time"
)

// Cache holds the most recent live reading per provider/KPI pair so a provider
// outage can serve slightly stale data instead of dropping to the simulator.
type Cache interface {
	Get(key string) (RawReading, bool)
	Put(key string, r RawReading)
	Stats() CacheStats
}

// CacheStats reports cache effectiveness for the status surface.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

type cacheEntry struct {
	reading  RawReading
	storedAt time.Time
}

// MemoryCache is an in-process TTL cache. Entries are evicted lazily on read;
// the working set is bounded by the loan book's provider/KPI pairs, so there
// is no background sweeper.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	hits    int64
	misses  int64
	now     func() time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(key string) (RawReading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return RawReading{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return RawReading{}, false
	}
	c.hits++
	return e.reading, true
}

func (c *MemoryCache) Put(key string, r RawReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{reading: r, storedAt: c.now()}
}

func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}
