package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/star/skytrack/internal/metrics"
	"github.com/star/skytrack/internal/propagation"
	"github.com/star/skytrack/internal/tle"
)

// DefaultMaxPositions bounds how many catalog records are propagated per snapshot.
const DefaultMaxPositions = 200

// catalog is the shared machinery of element-set providers: an element store
// refreshed on its own TTL, an optional disk cache for warm starts, and a
// propagation engine that turns the working set into positions.
type catalog struct {
	name         string
	tag          string
	store        *tle.Store
	engine       *propagation.Engine
	cache        *tle.Cache
	maxPositions int
	logger       *slog.Logger

	fetch func(ctx context.Context) ([]byte, error)
}

func newCatalog(name, tag string, ttl time.Duration, cacheDir string, maxPositions int,
	prop propagation.Propagator, pool *propagation.WorkerPool, logger *slog.Logger,
	fetch func(ctx context.Context) ([]byte, error)) *catalog {

	if maxPositions <= 0 {
		maxPositions = DefaultMaxPositions
	}
	logger = logger.With("provider", name)
	store := tle.NewStore(ttl, logger)

	var cache *tle.Cache
	if cacheDir != "" {
		cache = tle.NewCache(cacheDir, name, 0)
	}

	return &catalog{
		name:         name,
		tag:          tag,
		store:        store,
		engine:       propagation.NewEngine(store, prop, pool, logger),
		cache:        cache,
		maxPositions: maxPositions,
		logger:       logger,
		fetch:        fetch,
	}
}

// snapshot refreshes the working set if due and propagates it to now.
func (c *catalog) snapshot(ctx context.Context, now time.Time) (*Snapshot, error) {
	if err := c.refresh(ctx, now); err != nil {
		return nil, err
	}

	states, err := c.engine.PropagateAll(ctx, now, c.maxPositions)
	if err != nil {
		return nil, unavailable(c.name, err)
	}

	positions := make([]Position, len(states))
	for i, st := range states {
		positions[i] = FromState(st)
	}

	known := len(c.store.Records())
	metrics.SetTLEDataset(c.name, known, now.Sub(c.store.FetchedAt()))

	return NewSnapshot(c.tag, now, positions, known, c.store.AgeHours(now)), nil
}

// refresh fetches and ingests new elements when the store's TTL has elapsed.
// A failed refresh keeps serving the previous working set; with nothing loaded
// it falls back to the newest disk cache file.
func (c *catalog) refresh(ctx context.Context, now time.Time) error {
	if !c.store.ShouldRefresh(now) {
		return nil
	}

	c.store.Lock()
	defer c.store.Unlock()

	// Double-check after acquiring the lock.
	if !c.store.ShouldRefresh(now) {
		return nil
	}

	err := c.fetchAndIngest(ctx, now)
	if err == nil {
		return nil
	}

	if c.store.Get() != nil {
		c.logger.Warn("element refresh failed, serving previous set",
			"error", err,
			"age_hours", c.store.AgeHours(now),
		)
		return nil
	}

	if c.warmStart() {
		return nil
	}

	return unavailable(c.name, err)
}

func (c *catalog) fetchAndIngest(ctx context.Context, now time.Time) error {
	raw, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	count, err := c.store.IngestAt(raw, now)
	if err != nil {
		return err
	}

	c.logger.Info("elements refreshed", "count", count)

	if c.cache != nil {
		if err := c.cache.Write(raw, now); err != nil {
			c.logger.Warn("element cache write failed", "error", err)
		}
	}
	return nil
}

// warmStart loads the newest cached element text. The store keeps the cache
// file's timestamp so the next call retries the network.
func (c *catalog) warmStart() bool {
	if c.cache == nil {
		return false
	}

	raw, ts, err := c.cache.LoadLatest()
	if err != nil {
		c.logger.Debug("no element cache to warm start from", "error", err)
		return false
	}

	count, err := c.store.IngestAt(raw, ts)
	if err != nil {
		c.logger.Warn("element cache unusable", "error", err)
		return false
	}

	c.logger.Info("warm started from element cache",
		"count", count,
		"cached_at", ts.Format(time.RFC3339),
	)
	return true
}
