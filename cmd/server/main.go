package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/logging"
	"github.com/JonMunkholm/TemplatePick/internal/store"
	_ "github.com/JonMunkholm/TemplatePick/internal/store/memory"   // Register memory backend
	_ "github.com/JonMunkholm/TemplatePick/internal/store/postgres" // Register postgres backend
	_ "github.com/JonMunkholm/TemplatePick/internal/store/sqlite"   // Register sqlite backend
	"github.com/JonMunkholm/TemplatePick/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store_driver", cfg.Database.Driver,
		"ops_max_concurrent", cfg.Ops.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"reconcile_enabled", cfg.Reconcile.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	// Open the configured store backend
	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		slog.Error("failed to ping store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	slog.Info("store ready", "driver", cfg.Database.Driver, "registered", store.Drivers())

	// Create service with config
	service, err := core.NewService(st, cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Create server with config
	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Reconcile.Enabled {
		go service.StartReconcileScheduler(jobCtx, cfg.Reconcile.Interval)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active merges and ingests to complete (with timeout)
		if status := service.Status(); status.Active > 0 {
			slog.Info("waiting for operations to complete", "active", status.Active)
			if err := service.WaitForOperations(shutdownCtx); err != nil {
				slog.Warn("operations did not complete in time", "error", err)
			} else {
				slog.Info("all operations completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	<-done
	slog.Info("server stopped")
}
