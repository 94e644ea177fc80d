package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/skytrack/internal/source"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// fakeSource returns a one-satellite snapshot and can panic on chosen calls.
type fakeSource struct {
	calls   atomic.Int32
	panicOn int32 // 1-based call number; 0 disables
}

func (f *fakeSource) GetSnapshot(ctx context.Context, now time.Time) *source.Snapshot {
	n := f.calls.Add(1)
	if n == f.panicOn {
		panic("provider exploded")
	}
	positions := []source.Position{{Name: "STARLINK-1007", NORADID: 44713, Lat: 1, Lng: 2, AltitudeKm: 550}}
	return source.NewSnapshot(source.TagCelesTrak, now, positions, 1, 0)
}

type fakeTelemetry struct {
	name string
	data any
	err  error
}

func (f fakeTelemetry) Name() string { return f.name }

func (f fakeTelemetry) Collect(ctx context.Context) (any, error) {
	return f.data, f.err
}

func fastConfig() Config {
	return Config{Interval: 10 * time.Millisecond, Backoff: 10 * time.Millisecond, TickTimeout: time.Second}
}

// collector returns a publish callback that forwards payloads to a channel.
func collector() (func(Payload), <-chan Payload) {
	ch := make(chan Payload, 1024)
	return func(p Payload) { ch <- p }, ch
}

func waitFor(t *testing.T, ch <-chan Payload, n int) []Payload {
	t.Helper()
	var got []Payload
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case p := <-ch:
			got = append(got, p)
		case <-deadline:
			t.Fatalf("received %d payloads, want %d", len(got), n)
		}
	}
	return got
}

func TestLoopPublishesEachTick(t *testing.T) {
	src := &fakeSource{}
	publish, ch := collector()
	l := New(src, fastConfig(), testLogger, publish)

	if l.Latest() != nil {
		t.Fatal("Latest should be nil before the first tick")
	}

	l.Start()
	got := waitFor(t, ch, 3)
	l.Stop()

	for i, p := range got {
		if p.Tick != uint64(i+1) {
			t.Errorf("payload %d tick = %d, want %d", i, p.Tick, i+1)
		}
		if !p.MonitoringActive || p.Satellites == nil || p.Satellites.DataSource != source.TagCelesTrak {
			t.Errorf("payload %d = %+v", i, p)
		}
	}

	// One publish per successful tick.
	st := l.Status()
	published := int(st.Ticks)
	drained := len(got) + len(ch)
	if drained != published {
		t.Errorf("published %d payloads for %d ticks", drained, published)
	}
	if int(src.calls.Load()) != published {
		t.Errorf("resolver calls = %d, ticks = %d", src.calls.Load(), published)
	}
	if l.Latest() == nil || l.Latest().Tick != st.Ticks {
		t.Errorf("Latest = %+v, want tick %d", l.Latest(), st.Ticks)
	}
}

func TestLoopStartStopIdempotent(t *testing.T) {
	publish, ch := collector()
	l := New(&fakeSource{}, fastConfig(), testLogger, publish)

	if l.Stop() {
		t.Error("Stop on a stopped loop should be a no-op")
	}
	if !l.Start() {
		t.Fatal("first Start should start the loop")
	}
	if l.Start() {
		t.Error("second Start should be a no-op")
	}
	if !l.Running() || !l.Status().Running {
		t.Error("loop should report running")
	}

	waitFor(t, ch, 1)

	if !l.Stop() {
		t.Error("first Stop should stop the loop")
	}
	if l.Stop() {
		t.Error("second Stop should be a no-op")
	}
	if l.Running() {
		t.Error("loop should report stopped")
	}

	// No ticks after Stop returns.
	ticks := l.Status().Ticks
	time.Sleep(50 * time.Millisecond)
	if got := l.Status().Ticks; got != ticks {
		t.Errorf("ticks advanced after Stop: %d -> %d", ticks, got)
	}

	// The loop can be restarted.
	for len(ch) > 0 {
		<-ch
	}
	l.Start()
	waitFor(t, ch, 1)
	l.Stop()
}

func TestLoopRecoversFromPanic(t *testing.T) {
	src := &fakeSource{panicOn: 1}
	publish, ch := collector()
	l := New(src, fastConfig(), testLogger, publish)

	l.Start()
	got := waitFor(t, ch, 2)
	l.Stop()

	st := l.Status()
	if st.Failures != 1 {
		t.Errorf("failures = %d, want 1", st.Failures)
	}
	if st.Ticks < 2 {
		t.Errorf("ticks = %d, want >= 2", st.Ticks)
	}
	if got[0].Tick != 1 {
		t.Errorf("first published tick = %d, want 1", got[0].Tick)
	}
}

func TestLoopBacksOffAfterFailure(t *testing.T) {
	src := &fakeSource{panicOn: 1}
	publish, ch := collector()
	l := New(src, Config{Interval: 500 * time.Millisecond, Backoff: 20 * time.Millisecond, TickTimeout: time.Second}, testLogger, publish)

	start := time.Now()
	l.Start()
	p := waitFor(t, ch, 1)[0]
	elapsed := time.Since(start)
	l.Stop()

	if p.Tick != 1 {
		t.Errorf("tick = %d, want 1", p.Tick)
	}
	if src.calls.Load() != 2 {
		t.Errorf("resolver calls = %d, want 2", src.calls.Load())
	}
	if elapsed >= 250*time.Millisecond {
		t.Errorf("retry after failure took %v, want about the 20ms backoff", elapsed)
	}
}

func TestLoopHaltFromPublish(t *testing.T) {
	var l *Loop
	halted := make(chan bool, 1)
	l = New(&fakeSource{}, fastConfig(), testLogger, func(Payload) {
		select {
		case halted <- l.Halt():
		default:
		}
	})

	l.Start()
	select {
	case ok := <-halted:
		if !ok {
			t.Error("Halt from publish should stop a running loop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish never ran")
	}
	if l.Running() {
		t.Error("loop should report stopped after Halt")
	}
	if l.Halt() || l.Stop() {
		t.Error("Halt and Stop on a halted loop should be no-ops")
	}

	// A restart waits for the halted goroutine and then ticks again.
	if !l.Start() {
		t.Fatal("Start after Halt should start the loop")
	}
	deadline := time.Now().Add(2 * time.Second)
	for l.Status().Ticks < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("ticks = %d after restart, want >= 2", l.Status().Ticks)
		}
		time.Sleep(5 * time.Millisecond)
	}
	l.Halt()
}

// blockingSource holds every call until release is closed.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) GetSnapshot(ctx context.Context, now time.Time) *source.Snapshot {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return source.NewSnapshot(source.TagFallback, now, nil, 0, 0)
}

func TestLoopHaltDoesNotWaitForTick(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
	l := New(src, fastConfig(), testLogger, nil)

	l.Start()
	<-src.entered

	returned := make(chan bool, 1)
	go func() { returned <- l.Halt() }()
	select {
	case ok := <-returned:
		if !ok {
			t.Error("Halt should report the loop was running")
		}
	case <-time.After(time.Second):
		t.Fatal("Halt blocked on the in-flight tick")
	}

	close(src.release)
	if l.Stop() {
		t.Error("Stop after Halt should be a no-op")
	}
}

func TestLoopEmbedsTelemetryErrors(t *testing.T) {
	publish, ch := collector()
	l := New(&fakeSource{}, fastConfig(), testLogger, publish,
		fakeTelemetry{name: "starlink", err: errors.New("dish unreachable")},
		fakeTelemetry{name: "weather", data: map[string]any{"cloud_cover": 0.2}},
	)

	l.Start()
	p := waitFor(t, ch, 1)[0]
	l.Stop()

	if p.Telemetry["starlink"].Error != "dish unreachable" || p.Telemetry["starlink"].Data != nil {
		t.Errorf("starlink telemetry = %+v", p.Telemetry["starlink"])
	}
	if p.Telemetry["weather"].Error != "" || p.Telemetry["weather"].Data == nil {
		t.Errorf("weather telemetry = %+v", p.Telemetry["weather"])
	}
	if p.Satellites == nil {
		t.Error("telemetry failure must not drop the snapshot")
	}
}

func TestNewDefaults(t *testing.T) {
	l := New(&fakeSource{}, Config{}, testLogger, nil)
	if l.cfg.Interval != DefaultInterval || l.cfg.Backoff != DefaultBackoff || l.cfg.TickTimeout != DefaultTickTimeout {
		t.Errorf("config = %+v", l.cfg)
	}
	if got := l.Status().IntervalSeconds; got != 10 {
		t.Errorf("interval_seconds = %v, want 10", got)
	}
}
