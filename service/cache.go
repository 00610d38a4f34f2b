// Package service - unified traveler data service
package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tripforms/valise/models"
)

// DefaultCacheTTL how long a cache entry stays fresh after its last refresh
const DefaultCacheTTL = 5 * time.Minute

// cacheKey identifies one cache entry
type cacheKey struct {
	RecordType models.RecordTypeENUMType
	OwnerID    string
}

// cacheEntry the last loaded value of one (record type, owner) pair
//
// A nil value is a valid entry meaning "confirmed absent".
type cacheEntry struct {
	value       interface{}
	refreshedAt time.Time
}

// CacheStats a point-in-time snapshot of the cache counters
type CacheStats struct {
	// Hits reads served from the cache
	Hits int64 `json:"hits"`
	// Misses reads which had to touch storage
	Misses int64 `json:"misses"`
	// Invalidations cache entries dropped due to writes
	Invalidations int64 `json:"invalidations"`
	// TotalRequests hits plus misses
	TotalRequests int64 `json:"total_requests"`
	// HitRatePct percentage of reads served from the cache
	HitRatePct float64 `json:"hit_rate_pct"`
	// Since when the counters last started from zero
	Since time.Time `json:"since"`
}

// recordCache TTL cache over loaded traveler records
//
// Entries are keyed per (record type, owner) pair; an entry is fresh while
// `now - refreshedAt < ttl`. All mutation happens under one lock acquisition
// so readers never observe a half-invalidated entry.
type recordCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry

	// Atomic counters for thread-safe updates
	hits          int64
	misses        int64
	invalidations int64

	sinceLock sync.RWMutex
	since     time.Time

	metrics *cacheMetrics
}

// newRecordCache define a new record cache
func newRecordCache(ttl time.Duration, metrics *cacheMetrics) *recordCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &recordCache{
		ttl:     ttl,
		entries: make(map[cacheKey]cacheEntry),
		since:   time.Now(),
		metrics: metrics,
	}
}

// lookup fetch a fresh entry, recording a hit or miss
func (c *recordCache) lookup(key cacheKey) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.refreshedAt) < c.ttl {
		atomic.AddInt64(&c.hits, 1)
		if c.metrics != nil {
			c.metrics.hits.Inc()
		}
		return entry.value, true
	}

	atomic.AddInt64(&c.misses, 1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
	return nil, false
}

// store record a freshly loaded value
func (c *recordCache) store(key cacheKey, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, refreshedAt: time.Now()}
}

// invalidateAndStore drop the entry for a written record and repopulate it
// with the just-written value in the same lock acquisition
func (c *recordCache) invalidateAndStore(key cacheKey, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	atomic.AddInt64(&c.invalidations, 1)
	if c.metrics != nil {
		c.metrics.invalidations.Inc()
	}
	c.entries[key] = cacheEntry{value: value, refreshedAt: time.Now()}
}

// purgeOwner drop all entries of one owner
func (c *recordCache) purgeOwner(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, recordType := range models.AllRecordTypes() {
		delete(c.entries, cacheKey{RecordType: recordType, OwnerID: ownerID})
	}
}

// purgeAll drop every entry
func (c *recordCache) purgeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]cacheEntry)
}

// snapshotStats read the current counters
func (c *recordCache) snapshotStats() CacheStats {
	c.sinceLock.RLock()
	since := c.since
	c.sinceLock.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Hits:          hits,
		Misses:        misses,
		Invalidations: atomic.LoadInt64(&c.invalidations),
		TotalRequests: total,
		HitRatePct:    hitRate,
		Since:         since,
	}
}

// resetStats zero the counters without touching cached data
func (c *recordCache) resetStats() {
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.invalidations, 0)
	c.sinceLock.Lock()
	c.since = time.Now()
	c.sinceLock.Unlock()
}
