// Package resolver picks the constellation snapshot from an ordered list of
// source providers.
//
// The first provider that returns at least one position wins and its snapshot
// is cached for the TTL. Providers are always tried in priority order on a
// cache miss, and concurrent misses share one walk. When every provider
// fails, a synthetic snapshot tagged "fallback" is returned instead of an
// error and is not cached.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/star/skytrack/internal/metrics"
	"github.com/star/skytrack/internal/observability"
	"github.com/star/skytrack/internal/source"
)

// Defaults.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultProviderTimeout = 8 * time.Second
)

// Config holds resolver tuning.
type Config struct {
	TTL             time.Duration // snapshot cache lifetime (default: 5m)
	ProviderTimeout time.Duration // bound on each provider call (default: 8s)
	SyntheticSeed   int64
}

type cacheEntry struct {
	snap      *source.Snapshot
	fetchedAt time.Time
	stale     bool // set by Invalidate
}

// Stats reports resolver cache counters.
type Stats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Fallbacks  int64     `json:"fallbacks"`
	CachedAt   time.Time `json:"cached_at,omitempty"`
	DataSource string    `json:"data_source,omitempty"`
}

// Resolver is safe for concurrent use. Readers never block on a fetch in
// progress when the cached snapshot is still fresh. Callers that miss while a
// walk is running wait for it and share its result, fallback included, so no
// caller waits longer than one walk.
type Resolver struct {
	providers []source.Provider
	synthetic *source.Synthetic
	cfg       Config
	logger    *slog.Logger

	cached atomic.Pointer[cacheEntry]
	walks  singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	fallbacks atomic.Int64
}

// New creates a resolver over providers in priority order.
func New(providers []source.Provider, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}

	r := &Resolver{
		providers: providers,
		synthetic: source.NewSynthetic(cfg.SyntheticSeed, 0),
		cfg:       cfg,
		logger:    logger,
	}
	logger.Info("resolver initialized",
		"providers", r.Providers(),
		"ttl_seconds", cfg.TTL.Seconds(),
		"provider_timeout_seconds", cfg.ProviderTimeout.Seconds(),
	)
	return r
}

func (r *Resolver) fresh(now time.Time) (*source.Snapshot, bool) {
	e := r.cached.Load()
	if e == nil || e.stale || now.Sub(e.fetchedAt) >= r.cfg.TTL {
		return nil, false
	}
	return e.snap, true
}

// GetSnapshot returns the cached snapshot if it is younger than the TTL,
// otherwise it walks the providers. It never returns nil.
func (r *Resolver) GetSnapshot(ctx context.Context, now time.Time) *source.Snapshot {
	if snap, ok := r.fresh(now); ok {
		r.hits.Add(1)
		metrics.IncResolverLookup("hit")
		return snap
	}

	v, _, shared := r.walks.Do("snapshot", func() (any, error) {
		// A walk may have finished between the fresh check and Do.
		if snap, ok := r.fresh(now); ok {
			r.hits.Add(1)
			metrics.IncResolverLookup("hit")
			return snap, nil
		}
		// One caller going away must not cut the walk short for the others.
		return r.walk(context.WithoutCancel(ctx), now), nil
	})
	if shared {
		r.logger.Debug("joined in-flight snapshot resolution")
	}
	return v.(*source.Snapshot)
}

// walk tries every provider in order and falls back to a synthetic snapshot.
func (r *Resolver) walk(ctx context.Context, now time.Time) *source.Snapshot {
	r.misses.Add(1)
	metrics.IncResolverLookup("miss")

	ctx, span := observability.StartSpan(ctx, "resolver.refresh",
		attribute.Int("providers", len(r.providers)),
	)
	defer span.End()

	for _, p := range r.providers {
		snap, err := r.try(ctx, p, now)
		if err != nil {
			continue
		}

		r.cached.Store(&cacheEntry{snap: snap, fetchedAt: now})
		metrics.SetSnapshotPositions(snap.DataSource, len(snap.Positions))
		span.SetAttributes(attribute.String("data_source", snap.DataSource))
		r.logger.Info("snapshot resolved",
			"provider", p.Name(),
			"data_source", snap.DataSource,
			"positions", len(snap.Positions),
			"satellite_count", snap.SatelliteCount,
		)
		return snap
	}

	r.fallbacks.Add(1)
	metrics.IncResolverLookup("fallback")
	snap := r.synthetic.Snapshot(now)
	metrics.SetSnapshotPositions(snap.DataSource, len(snap.Positions))
	span.SetAttributes(attribute.String("data_source", snap.DataSource))
	span.SetStatus(codes.Error, "all sources unavailable")
	r.logger.Warn("all sources unavailable, serving synthetic snapshot",
		"providers", len(r.providers),
		"positions", len(snap.Positions),
	)
	return snap
}

type fetchResult struct {
	snap *source.Snapshot
	err  error
}

// try calls one provider under the per-provider timeout. A provider that
// ignores its context is abandoned when the timeout fires.
func (r *Resolver) try(ctx context.Context, p source.Provider, now time.Time) (*source.Snapshot, error) {
	name := p.Name()
	ctx, span := observability.StartSpan(ctx, "resolver.provider", attribute.String("provider", name))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		snap, err := p.Fetch(ctx, now)
		done <- fetchResult{snap, err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("%s: %w", name, ctx.Err())
	}
	elapsed := time.Since(start)

	switch {
	case errors.Is(res.err, source.ErrConfiguration):
		metrics.RecordProviderFetch(name, "unconfigured", elapsed)
		span.SetAttributes(attribute.String("result", "unconfigured"))
		r.logger.Debug("source not configured", "provider", name)
		return nil, res.err
	case res.err != nil:
		metrics.RecordProviderFetch(name, "error", elapsed)
		span.RecordError(res.err)
		span.SetStatus(codes.Error, "fetch failed")
		r.logger.Warn("source failed",
			"provider", name,
			"error", res.err,
			"duration_ms", elapsed.Milliseconds(),
		)
		return nil, res.err
	case res.snap.Empty():
		metrics.RecordProviderFetch(name, "empty", elapsed)
		span.SetAttributes(attribute.String("result", "empty"))
		r.logger.Warn("source returned no positions", "provider", name)
		return nil, fmt.Errorf("%s: %w", name, source.ErrSourceUnavailable)
	}

	metrics.RecordProviderFetch(name, "success", elapsed)
	span.SetAttributes(
		attribute.String("result", "success"),
		attribute.Int("positions", len(res.snap.Positions)),
	)
	return res.snap, nil
}

// Cached returns the most recent provider snapshot without fetching, or nil.
// It may be older than the TTL.
func (r *Resolver) Cached() *source.Snapshot {
	if e := r.cached.Load(); e != nil {
		return e.snap
	}
	return nil
}

// Invalidate forces the next GetSnapshot to query the providers. The previous
// snapshot stays available through Cached until it is replaced.
func (r *Resolver) Invalidate() {
	for {
		e := r.cached.Load()
		if e == nil || e.stale {
			return
		}
		next := *e
		next.stale = true
		if r.cached.CompareAndSwap(e, &next) {
			r.logger.Info("snapshot cache invalidated")
			return
		}
	}
}

// Stats returns cache counters and the cached snapshot's origin.
func (r *Resolver) Stats() Stats {
	s := Stats{
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Fallbacks: r.fallbacks.Load(),
	}
	if e := r.cached.Load(); e != nil {
		s.CachedAt = e.fetchedAt
		s.DataSource = e.snap.DataSource
	}
	return s
}

// Providers returns provider names in priority order.
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}
