//go:build integration

package syncer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/store"
	"github.com/rcabral/switchyard/internal/syncer"
	"github.com/rcabral/switchyard/internal/testsupport"
)

func TestSyncer_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	repo := store.NewPostgresStore(pgContainer.DB)

	seg := campaign.NewSegment("seg-1", "Everyone", 1, "lp-home")
	rec := &store.CampaignRecord{
		Campaign: &campaign.Campaign{
			ID:                    "camp-sync",
			Name:                  "Sync test",
			FallbackLandingPageID: "lp-fallback",
			Segments:              []campaign.Segment{*seg},
		},
	}
	require.NoError(t, repo.CreateCampaign(ctx, rec))

	svc := syncer.New(nil, syncer.Config{Interval: time.Second}, repo, redisContainer.Snapshots)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()

	// The initial cycle runs immediately; the snapshot should land in Redis.
	require.Eventually(t, func() bool {
		snap, err := redisContainer.Snapshots.GetCampaign(ctx, "camp-sync")
		return err == nil && snap != nil
	}, 5*time.Second, 100*time.Millisecond, "snapshot was not published")

	snap, err := redisContainer.Snapshots.GetCampaign(ctx, "camp-sync")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, snap.Version)
	assert.Equal(t, "Sync test", snap.Campaign.Name)
	require.Len(t, snap.Campaign.Segments, 1)
	assert.Equal(t, "lp-home", snap.Campaign.Segments[0].PrimaryLandingPageID)

	// A control-plane update is visible after the next cycle.
	rec.Campaign.Name = "Sync test v2"
	require.NoError(t, repo.UpdateCampaign(ctx, rec))

	require.Eventually(t, func() bool {
		snap, err := redisContainer.Snapshots.GetCampaign(ctx, "camp-sync")
		return err == nil && snap != nil && snap.Campaign.Name == "Sync test v2"
	}, 5*time.Second, 100*time.Millisecond, "updated snapshot was not published")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("syncer did not stop")
	}
}
