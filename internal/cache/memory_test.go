package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/testsupport"
)

func snapshotFor(id string) *cache.CampaignSnapshot {
	return &cache.CampaignSnapshot{
		Campaign:    &campaign.Campaign{ID: id, Name: "Test campaign"},
		Version:     1,
		PublishedAt: time.Now().UTC(),
	}
}

func TestMemoryCache(t *testing.T) {
	c, err := cache.NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	t.Run("Should record a miss for an absent campaign", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "switchyard_router_l1_cache_misses_total", nil, 1, func() {
			_, found := c.Get("absent")
			assert.False(t, found)
		})
	})

	t.Run("Should record a hit for a stored campaign", func(t *testing.T) {
		c.Set("camp-1", snapshotFor("camp-1"))

		testsupport.AssertMetricDelta(t, "switchyard_router_l1_cache_hits_total", nil, 1, func() {
			snap, found := c.Get("camp-1")
			require.True(t, found)
			assert.Equal(t, "camp-1", snap.Campaign.ID)
		})
	})

	t.Run("Should remove a campaign on Del", func(t *testing.T) {
		c.Set("camp-2", snapshotFor("camp-2"))
		c.Del("camp-2")

		_, found := c.Get("camp-2")
		assert.False(t, found)
	})
}
