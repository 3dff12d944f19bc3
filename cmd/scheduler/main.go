// Package main is the entry point for the Clubhouse background job engine.
//
// It loads configuration, wires the record stores and AWS clients, starts
// the job triggers, and serves the admin surface (health, job statuses,
// manual triggers) until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clubhouse/internal/app"
	"clubhouse/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(ctx, nil)
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.InfoContext(ctx, "clubhouse scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"timezone", cfg.Jobs.Timezone,
	)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := core.NewServer(a.Engine, cfg.Security.AdminAPIKey, logger)
	if err != nil {
		return fmt.Errorf("creating admin server: %w", err)
	}
	srv.HealthProbes = a.HealthProbes()

	// Runs and retries outlive ctx cancellation only until ShutdownJobs.
	if err := a.Engine.InitializeJobs(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("initializing jobs: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual runs are synchronous and bounded by the job timeout.
		WriteTimeout: cfg.Jobs.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "admin server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "admin server shutdown error", "error", err)
	}
	if err := a.Engine.ShutdownJobs(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "job shutdown did not complete", "error", err)
	}
	a.Close(shutdownCtx)

	logger.InfoContext(shutdownCtx, "clubhouse scheduler stopped")
	return runErr
}
