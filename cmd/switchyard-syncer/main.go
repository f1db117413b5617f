// Package main initializes and runs the Switchyard syncer: the worker that
// periodically publishes every campaign from PostgreSQL to Redis so the
// router fleet always has a full, recent snapshot set to serve from.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/config"
	"github.com/rcabral/switchyard/internal/database"
	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/observability"
	"github.com/rcabral/switchyard/internal/store"
	"github.com/rcabral/switchyard/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg := logger.New(&cfg.App)
	slog.SetDefault(logg)
	cfg.LogConfig(logg)

	if !cfg.Syncer.Enabled {
		logg.Warn("syncer is disabled by configuration, exiting")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	snapshots := cache.NewRedisSnapshots(redisClient)
	defer snapshots.Close()

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	campaigns := store.NewPostgresStore(pool)
	svc := syncer.New(logg, syncer.Config{Interval: cfg.Syncer.Interval}, campaigns, snapshots)

	// -------------------------------------------------------------------------
	// 4. Observability Server (probes + metrics)
	// -------------------------------------------------------------------------
	obs := observability.NewServer(logg, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	// -------------------------------------------------------------------------
	// 5. Run Loop & Graceful Shutdown
	// -------------------------------------------------------------------------
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("syncer stopped: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logg.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	cancel()
	<-errChan // wait for the current cycle to finish

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logg.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	logg.Info("service exited successfully")
	return nil
}
