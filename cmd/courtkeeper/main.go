// Courtkeeper - Booking rule evaluation for sports-court reservations.
// Copyright (c) 2025 The Courtkeeper Authors
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/api"
	"github.com/courtkeeper/courtkeeper/internal/audit"
	"github.com/courtkeeper/courtkeeper/internal/bus"
	"github.com/courtkeeper/courtkeeper/internal/cache"
	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/repository"
	"github.com/courtkeeper/courtkeeper/internal/rulectx"
	"github.com/courtkeeper/courtkeeper/internal/rules"
	"github.com/courtkeeper/courtkeeper/internal/telemetry"
	"github.com/courtkeeper/courtkeeper/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "courtkeeper: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting courtkeeper",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"edition", cfg.Edition,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"audit", cfg.Audit.Sink,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	sink, err := audit.New(ctx, cfg.Audit, repo)
	if err != nil {
		slog.Error("failed to initialize audit sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()
	slog.Info("audit sink initialized", "sink", cfg.Audit.Sink)

	registry, err := rules.DefaultRegistry()
	if err != nil {
		slog.Error("failed to initialize rule registry", "error", err)
		os.Exit(1)
	}
	engine := rules.NewEngine(rulectx.NewBuilder(repo), registry, sink)
	slog.Info("rule engine initialized", "rule_codes", registry.Len())

	var asyncWorker *worker.Worker
	if cfg.Engine.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, engine, cacheImpl)

		workerCfg := worker.Config{
			FacilityIDs: cfg.Engine.FacilityIDs,
			ResultTTL:   cfg.Engine.ResultTTL,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, cfg.Engine.ResultTTL, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("courtkeeper is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("courtkeeper shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Courtkeeper - booking rule engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Edition:  %s\n", cfg.Edition)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /bookings/evaluate           - Evaluate a booking request")
	fmt.Println("    POST /bookings/override           - Evaluate and force-allow as admin")
	fmt.Println("    POST /cancellations/evaluate      - Evaluate a cancellation")
	fmt.Println("    GET  /evaluations/{id}            - Fetch a cached evaluation")
	fmt.Println("    GET  /facilities/{id}/rules       - List facility rules")
	fmt.Println("    POST /facilities/{id}/rules       - Configure a facility rule")
	fmt.Println("    GET  /rules/codes                 - List rule codes")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
