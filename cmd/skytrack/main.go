package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/star/skytrack/internal/api"
	"github.com/star/skytrack/internal/config"
	"github.com/star/skytrack/internal/metrics"
	"github.com/star/skytrack/internal/monitor"
	"github.com/star/skytrack/internal/observability"
	"github.com/star/skytrack/internal/propagation"
	"github.com/star/skytrack/internal/resolver"
	"github.com/star/skytrack/internal/source"
	"github.com/star/skytrack/internal/stream"
	"github.com/star/skytrack/internal/tracker"
	"github.com/star/skytrack/internal/visibility"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(os.Args[1:], bootLogger)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		bootLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}

	prop, err := propagation.New(cfg.Propagation.Model)
	if err != nil {
		logger.Error("invalid propagation model", "error", err)
		os.Exit(1)
	}
	pool := propagation.NewWorkerPool(cfg.Propagation.Workers, logger)
	metrics.SetPropagationWorkers(pool.Workers())

	providers, spaceTrack := buildProviders(cfg, prop, pool, logger)
	res := resolver.New(providers, cfg.Resolver, logger)

	hub := stream.NewHub(cfg.Stream.BufferSize, logger)
	loop := monitor.New(res, cfg.Monitor, logger, hub.Publish)
	trk := tracker.New(res, visibility.NewCalculator(), loop, logger, tracker.WithCatalog(spaceTrack))

	streamHandler := stream.NewHandler(hub, cfg.Stream, logger)
	srv := api.NewServer(cfg.HTTPAddr, logger, cfg.Auth, api.Options{
		TrustProxy:   cfg.Stream.TrustProxy,
		WriteTimeout: api.WriteTimeoutFor(len(providers), cfg.Resolver.ProviderTimeout),
	}, trk, streamHandler)

	// Warm the resolver so /readyz turns green without waiting for a request.
	go func() {
		snap := trk.GetConstellationSnapshot(ctx)
		logger.Info("initial snapshot resolved",
			"data_source", snap.DataSource,
			"positions", len(snap.Positions),
		)
	}()

	if cfg.MonitorAutostart {
		trk.StartMonitoring()
	}

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"auth_enabled", cfg.Auth.Enabled,
			"providers", res.Providers(),
			"monitoring", cfg.MonitorAutostart,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	trk.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	logger.Info("server stopped")
}

// buildProviders instantiates the configured providers in resolver order. The
// Space-Track client is always returned because it also serves the catalog
// endpoint, even when it is not in the resolver chain.
func buildProviders(cfg *config.Config, prop propagation.Propagator, pool *propagation.WorkerPool, logger *slog.Logger) ([]source.Provider, *source.SpaceTrack) {
	spaceTrack := source.NewSpaceTrack(cfg.SpaceTrack, prop, pool, logger)
	providers := make([]source.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case config.ProviderSatelliteMap:
			providers = append(providers, source.NewSatelliteMap(cfg.SatelliteMap, prop, logger))
		case config.ProviderAviationEdge:
			providers = append(providers, source.NewAviationEdge(cfg.AviationEdge, logger))
		case config.ProviderSpaceTrack:
			providers = append(providers, spaceTrack)
		case config.ProviderCelesTrak:
			providers = append(providers, source.NewCelesTrak(cfg.CelesTrak, prop, pool, logger))
		}
	}
	return providers, spaceTrack
}
