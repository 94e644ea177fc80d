package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/skytrack/internal/metrics"
	"github.com/star/skytrack/internal/tle"
)

// ErrNoDataset is returned when the backing store has not ingested anything yet.
var ErrNoDataset = errors.New("no element dataset loaded")

// Engine propagates the current working set of an element store.
type Engine struct {
	store  *tle.Store
	pool   *WorkerPool
	prop   Propagator
	logger *slog.Logger
}

// NewEngine creates a propagation engine over store.
func NewEngine(store *tle.Store, prop Propagator, pool *WorkerPool, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		pool:   pool,
		prop:   prop,
		logger: logger,
	}
}

// Model returns the name of the underlying propagator.
func (e *Engine) Model() string {
	return e.prop.Name()
}

// PropagateAll propagates the store's working set to t. A positive limit
// propagates only the first limit records. Per-satellite failures are omitted
// from the result, never returned.
func (e *Engine) PropagateAll(ctx context.Context, t time.Time, limit int) ([]State, error) {
	ds := e.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}

	records := ds.Records
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	e.logger.Debug("propagating",
		"satellite_count", len(records),
		"target_time", t.UTC().Format(time.RFC3339),
		"workers", e.pool.Workers(),
		"model", e.prop.Name(),
	)

	start := time.Now()
	states, successCount, errorCount := e.pool.PropagateBatch(ctx, e.prop, records, t)
	duration := time.Since(start)

	metrics.RecordPropagation(e.prop.Name(), duration, successCount, errorCount)

	e.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"duration_ms", duration.Milliseconds(),
	)

	return states, nil
}

// PropagateOne propagates a single satellite from the working set.
func (e *Engine) PropagateOne(noradID int, t time.Time) (State, error) {
	ds := e.store.Get()
	if ds == nil {
		return State{}, ErrNoDataset
	}
	rec, ok := ds.Lookup(noradID)
	if !ok {
		return State{}, fmt.Errorf("NORAD %d not in dataset", noradID)
	}
	return e.prop.Propagate(rec, t)
}
