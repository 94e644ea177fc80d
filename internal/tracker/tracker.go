// Package tracker is the facade the HTTP layer talks to. It ties the
// resolver, the visibility calculator and the refresh loop together.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/skytrack/internal/monitor"
	"github.com/star/skytrack/internal/resolver"
	"github.com/star/skytrack/internal/source"
	"github.com/star/skytrack/internal/visibility"
)

// VisibleResult is the answer to a visibility query.
type VisibleResult struct {
	Observer     visibility.Observer           `json:"observer"`
	MinElevation float64                       `json:"min_elevation"`
	Timestamp    time.Time                     `json:"timestamp"`
	DataSource   string                        `json:"data_source"`
	Count        int                           `json:"count"`
	Satellites   []visibility.VisibleSatellite `json:"satellites"`
}

// SatelliteResult is a single satellite from the current snapshot.
type SatelliteResult struct {
	source.Position
	Timestamp  time.Time `json:"timestamp"`
	DataSource string    `json:"data_source"`
}

// CatalogResult lists detailed catalog rows.
type CatalogResult struct {
	Count      int                   `json:"count"`
	Satellites []source.CatalogEntry `json:"satellites"`
	Timestamp  time.Time             `json:"timestamp"`
}

// CatalogSource supplies catalog details; *source.SpaceTrack is one.
type CatalogSource interface {
	Catalog(ctx context.Context) ([]source.CatalogEntry, error)
}

// ErrCatalogUnavailable is returned by Catalog when no credentialed catalog
// source is configured.
var ErrCatalogUnavailable = errors.New("catalog details need space-track credentials")

// Tracker is safe for concurrent use.
type Tracker struct {
	resolver *resolver.Resolver
	calc     *visibility.Calculator
	loop     *monitor.Loop
	catalog  CatalogSource
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithCatalog enables Catalog lookups against src.
func WithCatalog(src CatalogSource) Option {
	return func(t *Tracker) { t.catalog = src }
}

// New creates a Tracker. loop may be nil when background monitoring is not used.
func New(res *resolver.Resolver, calc *visibility.Calculator, loop *monitor.Loop, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		resolver: res,
		calc:     calc,
		loop:     loop,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetConstellationSnapshot returns the current snapshot. It never returns nil;
// when every source is down the snapshot is tagged "fallback".
func (t *Tracker) GetConstellationSnapshot(ctx context.Context) *source.Snapshot {
	return t.resolver.GetSnapshot(ctx, t.now())
}

// GetVisible returns the satellites above minElevation for the observer.
func (t *Tracker) GetVisible(ctx context.Context, obs visibility.Observer, minElevation float64) (*VisibleResult, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	snap := t.GetConstellationSnapshot(ctx)
	visible := t.calc.ComputeVisibility(obs, snap.Positions, minElevation)

	t.logger.Debug("visibility computed",
		"lat", obs.Lat,
		"lon", obs.Lon,
		"min_elevation", minElevation,
		"visible", len(visible),
		"data_source", snap.DataSource,
	)

	return &VisibleResult{
		Observer:     obs,
		MinElevation: minElevation,
		Timestamp:    snap.Timestamp,
		DataSource:   snap.DataSource,
		Count:        len(visible),
		Satellites:   visible,
	}, nil
}

// GetSatellite looks up one satellite by catalog number in the current snapshot.
func (t *Tracker) GetSatellite(ctx context.Context, noradID int) (*SatelliteResult, bool) {
	snap := t.GetConstellationSnapshot(ctx)
	p, ok := snap.Lookup(noradID)
	if !ok {
		return nil, false
	}
	return &SatelliteResult{Position: p, Timestamp: snap.Timestamp, DataSource: snap.DataSource}, true
}

// Catalog returns catalog details for recently launched satellites.
func (t *Tracker) Catalog(ctx context.Context) (*CatalogResult, error) {
	if t.catalog == nil {
		return nil, ErrCatalogUnavailable
	}
	entries, err := t.catalog.Catalog(ctx)
	if errors.Is(err, source.ErrConfiguration) {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return &CatalogResult{Count: len(entries), Satellites: entries, Timestamp: t.now().UTC()}, nil
}

// Refresh discards the cached snapshot and resolves a new one.
func (t *Tracker) Refresh(ctx context.Context) *source.Snapshot {
	t.resolver.Invalidate()
	snap := t.GetConstellationSnapshot(ctx)
	t.logger.Info("manual refresh", "data_source", snap.DataSource, "positions", len(snap.Positions))
	return snap
}

// ErrNotReady is returned by Ready before the first snapshot has been resolved.
var ErrNotReady = errors.New("no snapshot resolved yet")

// Ready reports whether at least one resolution has completed, from a provider
// or from the synthetic fallback.
func (t *Tracker) Ready() error {
	if t.resolver.Cached() != nil || t.resolver.Stats().Fallbacks > 0 {
		return nil
	}
	return ErrNotReady
}

// ResolverStats exposes the resolver's cache counters.
func (t *Tracker) ResolverStats() resolver.Stats {
	return t.resolver.Stats()
}

// StartMonitoring starts the refresh loop. It reports false when the loop was
// already running or is not configured.
func (t *Tracker) StartMonitoring() bool {
	if t.loop == nil {
		return false
	}
	return t.loop.Start()
}

// StopMonitoring signals the refresh loop to stop without waiting for a tick
// in progress. It reports false when the loop was not running.
func (t *Tracker) StopMonitoring() bool {
	if t.loop == nil {
		return false
	}
	return t.loop.Halt()
}

// Shutdown stops the refresh loop and waits for its last tick.
func (t *Tracker) Shutdown() {
	if t.loop != nil {
		t.loop.Stop()
	}
}

// MonitoringStatus returns the refresh loop's counters.
func (t *Tracker) MonitoringStatus() monitor.Status {
	if t.loop == nil {
		return monitor.Status{}
	}
	return t.loop.Status()
}

// Latest returns the last payload published by the refresh loop, or nil.
func (t *Tracker) Latest() *monitor.Payload {
	if t.loop == nil {
		return nil
	}
	return t.loop.Latest()
}
