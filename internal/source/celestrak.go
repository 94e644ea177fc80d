package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/star/skytrack/internal/propagation"
	"github.com/star/skytrack/internal/tle"
)

// CelesTrakConfig configures the public catalog provider.
type CelesTrakConfig struct {
	URL          string   // default tle.DefaultSourceURL
	ExtraURLs    []string // appended to the primary catalog
	TTL          time.Duration
	CacheDir     string // empty disables the disk cache
	MaxPositions int
}

// CelesTrak serves the public Starlink catalog, propagated locally.
type CelesTrak struct {
	*catalog
	fetcher *tle.Fetcher
}

// NewCelesTrak creates the public catalog provider.
func NewCelesTrak(cfg CelesTrakConfig, prop propagation.Propagator, pool *propagation.WorkerPool, logger *slog.Logger) *CelesTrak {
	fetcher := tle.NewFetcher(cfg.URL, logger, cfg.ExtraURLs...)
	c := &CelesTrak{fetcher: fetcher}
	c.catalog = newCatalog("celestrak", TagCelesTrak, cfg.TTL, cfg.CacheDir, cfg.MaxPositions,
		prop, pool, logger, fetcher.Fetch)
	return c
}

// Name implements Provider.
func (c *CelesTrak) Name() string {
	return c.name
}

// Fetch implements Provider.
func (c *CelesTrak) Fetch(ctx context.Context, now time.Time) (*Snapshot, error) {
	return c.snapshot(ctx, now)
}
