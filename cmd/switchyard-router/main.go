// Package main initializes and runs the Switchyard router: the visitor-facing
// decision endpoint.
//
// It wires the two-level snapshot cache (in-process otter in front of Redis),
// the Pub/Sub invalidation listener and the observability server. PostgreSQL
// is deliberately absent: the router serves purely from published snapshots.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/config"
	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/observability"
	"github.com/rcabral/switchyard/internal/routerapi"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	snapshots := cache.NewRedisSnapshots(redisClient)
	defer snapshots.Close()

	rtr := cfg.Server.Router
	l1, err := cache.NewMemoryCache(rtr.CacheCapacity, rtr.CacheTTL)
	if err != nil {
		return fmt.Errorf("failed to build l1 cache: %w", err)
	}
	defer l1.Close()

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	api := routerapi.NewAPI(l1, snapshots, logg)

	// The invalidation listener keeps the L1 within one Pub/Sub round trip of
	// a campaign edit. If it dies, the TTL still bounds staleness.
	invalidator := routerapi.NewInvalidator(redisClient, l1, logg)
	go func() {
		if err := invalidator.Run(ctx); err != nil {
			logg.Error("cache invalidation listener stopped",
				slog.String("error", err.Error()))
		}
	}()

	// -------------------------------------------------------------------------
	// 4. Observability Server (probes + metrics)
	// -------------------------------------------------------------------------
	obs := observability.NewServer(logg, &cfg.Observability,
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	// -------------------------------------------------------------------------
	// 5. HTTP Server Setup
	// -------------------------------------------------------------------------
	server := &http.Server{
		Addr:              rtr.Host + ":" + rtr.Port,
		Handler:           api.Router,
		ReadTimeout:       rtr.ReadTimeout,
		WriteTimeout:      rtr.WriteTimeout,
		ReadHeaderTimeout: rtr.ReadHeaderTimeout,
		IdleTimeout:       rtr.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logg.Info("router listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 6. Graceful Shutdown
	// -------------------------------------------------------------------------
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logg.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	cancel() // stop the invalidation listener

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logg.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	logg.Info("service exited successfully")
	return nil
}
