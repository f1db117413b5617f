// Package main initializes and runs the Switchyard control plane: the REST
// API campaign authors talk to.
//
// It acts as the composition root, wiring PostgreSQL, Redis snapshot
// publishing and the observability server, and handling the HTTP server
// lifecycle.
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
	"github.com/rcabral/switchyard/internal/controlapi"
	"github.com/rcabral/switchyard/internal/database"
	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/observability"
	"github.com/rcabral/switchyard/internal/store"
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

	ctx := context.Background()

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
	translations := store.NewTranslationStore(pool)

	// Outside production an operator may run without an API key for local
	// development; config validation guarantees the hash in production.
	skipAuth := cfg.Server.Control.APIKeyHash == "" &&
		cfg.App.Environment != config.EnvironmentProduction
	if skipAuth {
		logg.Warn("API authentication is DISABLED, set SWITCHYARD_SERVER_CONTROL_API_KEY_HASH to enable it")
	}

	api := controlapi.NewAPIWithConfig(campaigns, translations, snapshots,
		cfg.Server.Control.APIKeyHash, skipAuth)

	// -------------------------------------------------------------------------
	// 4. Observability Server (probes + metrics)
	// -------------------------------------------------------------------------
	obs := observability.NewServer(logg, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	// -------------------------------------------------------------------------
	// 5. HTTP Server Setup
	// -------------------------------------------------------------------------
	ctl := cfg.Server.Control
	server := &http.Server{
		Addr:              ctl.Host + ":" + ctl.Port,
		Handler:           api.Router,
		ReadTimeout:       ctl.ReadTimeout,
		WriteTimeout:      ctl.WriteTimeout,
		ReadHeaderTimeout: ctl.ReadHeaderTimeout,
		IdleTimeout:       ctl.IdleTimeout,
		MaxHeaderBytes:    ctl.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		logg.Info("control plane listening",
			slog.String("addr", server.Addr),
			slog.Bool("tls", ctl.TLSEnabled))

		var serveErr error
		if ctl.TLSEnabled {
			serveErr = server.ListenAndServeTLS(ctl.TLSCert, ctl.TLSKey)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server failed: %w", serveErr)
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

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logg.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	logg.Info("service exited successfully")
	return nil
}
