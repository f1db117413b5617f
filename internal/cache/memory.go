package cache

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/rcabral/switchyard/internal/observability"
)

// MemoryCache is the router's L1 layer for campaign snapshots, backed by
// otter's contention-free S3-FIFO cache.
type MemoryCache struct {
	store otter.Cache[string, *CampaignSnapshot]
}

// NewMemoryCache builds the in-memory cache.
// capacity caps the number of campaigns held (OOM guard); ttl bounds how
// stale a router can serve if invalidation events are lost.
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	store, err := otter.MustBuilder[string, *CampaignSnapshot](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache{store: store}, nil
}

// Get returns the cached snapshot for a campaign id, recording hit/miss
// metrics.
func (c *MemoryCache) Get(id string) (*CampaignSnapshot, bool) {
	snap, found := c.store.Get(id)
	if found {
		observability.RouterCacheHits.Inc()
	} else {
		observability.RouterCacheMisses.Inc()
	}
	return snap, found
}

// Set stores a snapshot. The TTL from the constructor applies.
func (c *MemoryCache) Set(id string, snap *CampaignSnapshot) {
	c.store.Set(id, snap)
	observability.RouterCacheItems.Set(float64(c.store.Size()))
}

// Del removes a snapshot, used when an invalidation event arrives.
func (c *MemoryCache) Del(id string) {
	c.store.Delete(id)
	observability.RouterCacheItems.Set(float64(c.store.Size()))
}

// Close stops the cache's background goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}
