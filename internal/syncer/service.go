// Package syncer implements the background worker that propagates campaign
// snapshots from the control plane (PostgreSQL) to the routers (Redis).
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/observability"
	"github.com/rcabral/switchyard/internal/store"
)

// Config holds the syncer settings.
type Config struct {
	// Interval is the duration between publication cycles.
	Interval time.Duration
}

// Service runs the publication loop.
type Service struct {
	logger    *slog.Logger
	config    Config
	repo      store.CampaignRepository
	snapshots cache.SnapshotService
}

// New creates the syncer.
func New(logger *slog.Logger, cfg Config, repo store.CampaignRepository, snapshots cache.SnapshotService) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		panic("syncer: campaign repository cannot be nil")
	}
	if snapshots == nil {
		panic("syncer: snapshot service cannot be nil")
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 10 * time.Second
	}

	return &Service{
		logger:    logger,
		config:    cfg,
		repo:      repo,
		snapshots: snapshots,
	}
}

// Run blocks until the context is cancelled, publishing a full snapshot set
// once immediately and then on every tick.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.String("interval", s.config.Interval.String()))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.sync(ctx); err != nil {
		s.logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-ticker.C:
			if err := s.sync(ctx); err != nil {
				// Log and wait for the next tick; one failed cycle only
				// delays freshness, it does not lose data.
				s.logger.Error("sync cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// sync performs one publication cycle: read every campaign from the source
// of truth and overwrite its snapshot in Redis.
func (s *Service) sync(ctx context.Context) error {
	start := time.Now()

	records, err := s.repo.ListAllCampaigns(ctx)
	if err != nil {
		return err
	}

	published := 0
	failed := 0

	for _, rec := range records {
		snap := &cache.CampaignSnapshot{
			Campaign:    rec.Campaign,
			Version:     rec.Version,
			PublishedAt: start.UTC(),
		}

		if err := s.snapshots.SetCampaign(ctx, snap); err != nil {
			s.logger.Warn("failed to publish campaign snapshot",
				slog.String("campaign_id", rec.Campaign.ID),
				slog.String("error", err.Error()),
			)
			observability.SyncerCampaignsTotal.WithLabelValues("fail").Inc()
			failed++
			continue
		}

		if err := s.snapshots.PublishUpdate(ctx, rec.Campaign.ID); err != nil {
			// The snapshot landed; routers will pick it up on TTL expiry
			// even without the event.
			s.logger.Warn("failed to publish update event",
				slog.String("campaign_id", rec.Campaign.ID),
				slog.String("error", err.Error()),
			)
		}

		observability.SyncerCampaignsTotal.WithLabelValues("success").Inc()
		published++
	}

	observability.SyncerCycleDuration.Observe(time.Since(start).Seconds())

	if published > 0 || failed > 0 {
		s.logger.Info("sync cycle completed",
			slog.Int("published", published),
			slog.Int("failed", failed),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return nil
}
