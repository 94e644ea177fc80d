package propagation

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/skytrack/internal/tle"
)

// WorkerPool bounds how many satellites are propagated at once.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a pool of the given width. A non-positive count
// selects runtime.NumCPU().
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{workers: workers, logger: logger}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// outcome is one slot of a batch; index i always belongs to records[i].
type outcome struct {
	state State
	err   error
	done  bool
}

// PropagateBatch propagates every record to t with p and returns the
// successful states in input order with the success and failure counts.
// Failed satellites are logged and omitted. Once ctx is cancelled no further
// records are started.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, p Propagator, records []tle.ElementRecord, t time.Time) ([]State, int, int) {
	if len(records) == 0 {
		return nil, 0, 0
	}

	slots := make([]outcome, len(records))
	var g errgroup.Group
	g.SetLimit(wp.workers)
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			st, err := p.Propagate(records[i], t)
			slots[i] = outcome{state: st, err: err, done: true}
			return nil
		})
	}
	g.Wait()

	states := make([]State, 0, len(records))
	var failed int
	for i, o := range slots {
		switch {
		case !o.done:
		case o.err != nil:
			failed++
			wp.logger.Warn("propagation failed",
				"norad_id", records[i].NORADID,
				"model", p.Name(),
				"error", o.err,
			)
		default:
			states = append(states, o.state)
		}
	}
	return states, len(states), failed
}
