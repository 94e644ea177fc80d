// Package monitor runs the periodic refresh loop: each tick takes a snapshot
// from the resolver, bundles it with any registered telemetry and publishes the
// result exactly once.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/star/skytrack/internal/metrics"
	"github.com/star/skytrack/internal/observability"
	"github.com/star/skytrack/internal/source"
)

// Defaults.
const (
	DefaultInterval    = 10 * time.Second
	DefaultBackoff     = 5 * time.Second
	DefaultTickTimeout = time.Minute
)

// SnapshotSource supplies constellation snapshots. *resolver.Resolver satisfies it.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, now time.Time) *source.Snapshot
}

// Telemetry is an extra data source bundled into every payload, such as a
// user terminal's status.
type Telemetry interface {
	Name() string
	Collect(ctx context.Context) (any, error)
}

// TelemetryResult carries one telemetry source's data or its error.
type TelemetryResult struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Payload is what the loop publishes on every tick.
type Payload struct {
	Timestamp        time.Time                  `json:"timestamp"`
	Tick             uint64                     `json:"tick"`
	Satellites       *source.Snapshot           `json:"satellites"`
	Telemetry        map[string]TelemetryResult `json:"telemetry,omitempty"`
	MonitoringActive bool                       `json:"monitoring_active"`
}

// Config holds loop timing.
type Config struct {
	Interval    time.Duration // between successful ticks (default: 10s)
	Backoff     time.Duration // after a failed tick (default: 5s)
	TickTimeout time.Duration // bound on one tick's fetches (default: 1m)
}

// Status is a point-in-time view of the loop's counters.
type Status struct {
	Running         bool      `json:"running"`
	Ticks           uint64    `json:"ticks"`
	Failures        uint64    `json:"failures"`
	LastTick        time.Time `json:"last_tick,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	IntervalSeconds float64   `json:"interval_seconds"`
}

// loopState is guarded by Loop.mu. done stays set after a halt until the
// next Start, so a restarted loop can wait for the previous goroutine.
type loopState struct {
	running  bool
	stop     chan struct{}
	done     chan struct{}
	ticks    uint64
	failures uint64
	lastTick time.Time
	lastErr  string
}

// Loop is the refresh loop. Start and Stop are idempotent and safe to call
// from any goroutine.
type Loop struct {
	src       SnapshotSource
	telemetry []Telemetry
	publish   func(Payload)
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state loopState

	latest atomic.Pointer[Payload]
}

// New creates a stopped loop. publish may be nil. publish runs on the loop
// goroutine, so it must not call Stop, which waits for that goroutine; use
// Halt instead.
func New(src SnapshotSource, cfg Config, logger *slog.Logger, publish func(Payload), telemetry ...Telemetry) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultTickTimeout
	}
	if publish == nil {
		publish = func(Payload) {}
	}
	return &Loop{
		src:       src,
		telemetry: telemetry,
		publish:   publish,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the loop. It reports false if the loop was already running.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.running {
		return false
	}
	prev := l.state.done
	l.state.running = true
	l.state.stop = make(chan struct{})
	l.state.done = make(chan struct{})

	go l.run(prev, l.state.stop, l.state.done)

	l.logger.Info("monitoring started",
		"interval_seconds", l.cfg.Interval.Seconds(),
		"backoff_seconds", l.cfg.Backoff.Seconds(),
	)
	return true
}

// Stop ends the loop and waits for an in-flight tick to finish. It reports
// false if the loop was not running.
func (l *Loop) Stop() bool {
	done, ok := l.halt()
	if !ok {
		return false
	}
	<-done
	l.logger.Info("monitoring stopped")
	return true
}

// Halt signals the loop to stop without waiting for an in-flight tick, which
// may still publish once. It reports false if the loop was not running.
func (l *Loop) Halt() bool {
	_, ok := l.halt()
	if ok {
		l.logger.Info("monitoring halted")
	}
	return ok
}

func (l *Loop) halt() (<-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.running {
		return nil, false
	}
	l.state.running = false
	close(l.state.stop)
	return l.state.done, true
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.running
}

// Latest returns the most recently published payload, or nil before the first tick.
func (l *Loop) Latest() *Payload {
	return l.latest.Load()
}

// Status returns the loop's counters.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Running:         l.state.running,
		Ticks:           l.state.ticks,
		Failures:        l.state.failures,
		LastTick:        l.state.lastTick,
		LastError:       l.state.lastErr,
		IntervalSeconds: l.cfg.Interval.Seconds(),
	}
}

// run ticks immediately, then every Interval, or after Backoff when a tick
// fails. The stop signal is only observed between ticks. prev, when set, is
// the done channel of a halted predecessor still finishing its tick.
func (l *Loop) run(prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-stop:
			return
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		delay := l.cfg.Interval
		if err := l.tick(); err != nil {
			delay = l.cfg.Backoff
			l.logger.Error("monitoring tick failed",
				"error", err,
				"retry_in_seconds", delay.Seconds(),
			)
		}
		timer.Reset(delay)
	}
}

// tick performs one iteration. Panics are recovered and reported as errors.
// The tick's context is detached from Stop so a fetch in progress completes
// or times out on its own.
func (l *Loop) tick() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TickTimeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "monitor.tick")
	defer span.End()

	start := l.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		l.record(start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tick failed")
		}
	}()

	snap := l.src.GetSnapshot(ctx, start)
	if snap == nil {
		return errors.New("resolver returned no snapshot")
	}

	payload := Payload{
		Timestamp:        start.UTC(),
		Satellites:       snap,
		Telemetry:        l.collect(ctx),
		MonitoringActive: true,
	}
	payload.Tick = l.nextTick()

	l.latest.Store(&payload)
	l.publish(payload)

	span.SetAttributes(
		attribute.String("data_source", snap.DataSource),
		attribute.Int("positions", len(snap.Positions)),
	)
	l.logger.Debug("monitoring tick",
		"tick", payload.Tick,
		"data_source", snap.DataSource,
		"positions", len(snap.Positions),
		"duration_ms", l.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (l *Loop) collect(ctx context.Context) map[string]TelemetryResult {
	if len(l.telemetry) == 0 {
		return nil
	}
	out := make(map[string]TelemetryResult, len(l.telemetry))
	for _, t := range l.telemetry {
		data, err := t.Collect(ctx)
		if err != nil {
			l.logger.Warn("telemetry collection failed", "telemetry", t.Name(), "error", err)
			out[t.Name()] = TelemetryResult{Error: err.Error()}
			continue
		}
		out[t.Name()] = TelemetryResult{Data: data}
	}
	return out
}

func (l *Loop) nextTick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.ticks + 1
}

func (l *Loop) record(at time.Time, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.lastTick = at
	if err != nil {
		l.state.failures++
		l.state.lastErr = err.Error()
		metrics.IncMonitorTick("failed")
		return
	}
	l.state.ticks++
	l.state.lastErr = ""
	metrics.IncMonitorTick("ok")
}
