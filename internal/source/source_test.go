package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/skytrack/internal/propagation"
	"github.com/star/skytrack/internal/tle"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"

	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05"
)

// Both TLE epochs are 2024-04-09T12:00Z; acquired is twelve hours later.
var acquired = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func catalogText() string {
	return "ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n" +
		"STARLINK-1007\n" + starlinkLine1 + "\n" + starlinkLine2 + "\n"
}

func testPropagator(t *testing.T) propagation.Propagator {
	t.Helper()
	p, err := propagation.New(propagation.ModelSGP4)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func testPool() *propagation.WorkerPool {
	return propagation.NewWorkerPool(2, testLogger)
}

// flakyServer serves body until fail is set, then answers 500.
type flakyServer struct {
	*httptest.Server
	hits atomic.Int32
	fail atomic.Bool
}

func newFlakyServer(t *testing.T, body string) *flakyServer {
	fs := &flakyServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if fs.fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func TestCelesTrakFetch(t *testing.T) {
	srv := newFlakyServer(t, catalogText())
	p := NewCelesTrak(CelesTrakConfig{URL: srv.URL, TTL: time.Hour}, testPropagator(t), testPool(), testLogger)

	snap, err := p.Fetch(context.Background(), acquired)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.DataSource != TagCelesTrak {
		t.Errorf("data_source = %q", snap.DataSource)
	}
	if snap.SatelliteCount != 2 || snap.PositionsCalculated != 2 || len(snap.Positions) != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/2/2", snap.SatelliteCount, snap.PositionsCalculated, len(snap.Positions))
	}
	if snap.Positions[0].NORADID != 25544 || snap.Positions[1].NORADID != 44713 {
		t.Errorf("positions out of catalog order: %+v", snap.Positions)
	}
	if snap.TLEAgeHours != 0 {
		t.Errorf("tle_age_hours = %v, want 0", snap.TLEAgeHours)
	}
	if snap.ID == "" {
		t.Error("snapshot ID not set")
	}

	// Within TTL the catalog is not fetched again.
	if _, err := p.Fetch(context.Background(), acquired.Add(30*time.Minute)); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if got := srv.hits.Load(); got != 1 {
		t.Errorf("upstream hits = %d, want 1", got)
	}
}

func TestCelesTrakServesPreviousSetOnFailure(t *testing.T) {
	srv := newFlakyServer(t, catalogText())
	p := NewCelesTrak(CelesTrakConfig{URL: srv.URL, TTL: time.Hour}, testPropagator(t), testPool(), testLogger)

	if _, err := p.Fetch(context.Background(), acquired); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	srv.fail.Store(true)
	snap, err := p.Fetch(context.Background(), acquired.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Fetch after upstream failure: %v", err)
	}
	if len(snap.Positions) != 2 {
		t.Errorf("positions = %d, want 2", len(snap.Positions))
	}
	if snap.TLEAgeHours != 2 {
		t.Errorf("tle_age_hours = %v, want 2", snap.TLEAgeHours)
	}
	if got := srv.hits.Load(); got != 2 {
		t.Errorf("upstream hits = %d, want 2", got)
	}
}

func TestCelesTrakWarmStartFromDiskCache(t *testing.T) {
	dir := t.TempDir()
	cachedAt := acquired.Add(-2 * time.Hour)
	if err := tle.NewCache(dir, "celestrak", 0).Write([]byte(catalogText()), cachedAt); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	srv := newFlakyServer(t, "")
	srv.fail.Store(true)
	p := NewCelesTrak(CelesTrakConfig{URL: srv.URL, CacheDir: dir}, testPropagator(t), testPool(), testLogger)

	snap, err := p.Fetch(context.Background(), acquired)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Positions) != 2 {
		t.Errorf("positions = %d, want 2", len(snap.Positions))
	}
	if snap.TLEAgeHours != 2 {
		t.Errorf("tle_age_hours = %v, want 2", snap.TLEAgeHours)
	}
}

func TestCelesTrakWritesDiskCache(t *testing.T) {
	dir := t.TempDir()
	srv := newFlakyServer(t, catalogText())
	p := NewCelesTrak(CelesTrakConfig{URL: srv.URL, CacheDir: dir}, testPropagator(t), testPool(), testLogger)

	if _, err := p.Fetch(context.Background(), acquired); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, ts, err := tle.NewCache(dir, "celestrak", 0).LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if string(data) != catalogText() || !ts.Equal(acquired) {
		t.Errorf("cache holds %d bytes at %v", len(data), ts)
	}
}

func TestCelesTrakUnavailable(t *testing.T) {
	srv := newFlakyServer(t, "")
	srv.fail.Store(true)
	p := NewCelesTrak(CelesTrakConfig{URL: srv.URL}, testPropagator(t), testPool(), testLogger)

	_, err := p.Fetch(context.Background(), acquired)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	var se *SourceError
	if !errors.As(err, &se) || se.Provider != "celestrak" {
		t.Errorf("err = %#v, want *SourceError from celestrak", err)
	}
}

func TestCelesTrakMaxPositions(t *testing.T) {
	srv := newFlakyServer(t, catalogText())
	p := NewCelesTrak(CelesTrakConfig{URL: srv.URL, MaxPositions: 1}, testPropagator(t), testPool(), testLogger)

	snap, err := p.Fetch(context.Background(), acquired)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.SatelliteCount != 2 || snap.PositionsCalculated != 1 {
		t.Errorf("counts = %d/%d, want 2/1", snap.SatelliteCount, snap.PositionsCalculated)
	}
}

// fakeSpaceTrack emulates the login cookie and 3LE query endpoints.
type fakeSpaceTrack struct {
	*httptest.Server
	logins  atomic.Int32
	queries atomic.Int32
	reject  bool
}

func newFakeSpaceTrack(t *testing.T, reject bool) *fakeSpaceTrack {
	f := &fakeSpaceTrack{reject: reject}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ajaxauth/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.reject || r.PostForm.Get("identity") != "user" || r.PostForm.Get("password") != "pass" {
			fmt.Fprint(w, `{"Login":"Failed"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "chocolatechip", Value: "session", Path: "/"})
		fmt.Fprint(w, `""`)
	})
	mux.HandleFunc("GET /basicspacedata/query/", func(w http.ResponseWriter, r *http.Request) {
		f.queries.Add(1)
		if _, err := r.Cookie("chocolatechip"); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case strings.Contains(r.URL.Path, "/class/satcat/") && strings.HasSuffix(r.URL.Path, "/format/json"):
			fmt.Fprint(w, satcatJSON)
		case strings.Contains(r.URL.Path, "/class/tle_latest/") && strings.HasSuffix(r.URL.Path, "/format/3le"):
			fmt.Fprint(w, "0 STARLINK-1007\n"+starlinkLine1+"\n"+starlinkLine2+"\n")
		default:
			http.Error(w, "bad query "+r.URL.Path, http.StatusBadRequest)
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

const satcatJSON = `[
  {"NORAD_CAT_ID":"44713","OBJECT_NAME":"STARLINK-1007","LAUNCH":"2019-11-11","SITE":"AFETR","DECAY":null,
   "PERIOD":"95.60","INCLINATION":"53.05","APOGEE":"551","PERIGEE":"549"},
  {"NORAD_CAT_ID":44235,"OBJECT_NAME":"STARLINK-2 ","LAUNCH":"2019-05-24","SITE":"AFETR","DECAY":"2020-10-13",
   "PERIOD":"","INCLINATION":"53.00","APOGEE":null,"PERIGEE":null}
]`

func TestSpaceTrackCatalog(t *testing.T) {
	srv := newFakeSpaceTrack(t, false)
	p := NewSpaceTrack(SpaceTrackConfig{BaseURL: srv.URL, Username: "user", Password: "pass"}, testPropagator(t), testPool(), testLogger)
	p.now = func() time.Time { return acquired }

	entries, err := p.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	want := []CatalogEntry{
		{NORADID: 44713, Name: "STARLINK-1007", LaunchDate: "2019-11-11", Site: "AFETR",
			PeriodMinutes: 95.6, InclinationDeg: 53.05, ApogeeKm: 551, PerigeeKm: 549},
		{NORADID: 44235, Name: "STARLINK-2", LaunchDate: "2019-05-24", Site: "AFETR", DecayDate: "2020-10-13",
			InclinationDeg: 53},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}

	// Served from memory inside the TTL.
	if _, err := p.Catalog(context.Background()); err != nil {
		t.Fatalf("second Catalog: %v", err)
	}
	if got := srv.queries.Load(); got != 1 {
		t.Errorf("queries = %d, want 1", got)
	}
}

func TestSpaceTrackCatalogWithoutCredentials(t *testing.T) {
	srv := newFakeSpaceTrack(t, false)
	p := NewSpaceTrack(SpaceTrackConfig{BaseURL: srv.URL}, testPropagator(t), testPool(), testLogger)

	if _, err := p.Catalog(context.Background()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if srv.logins.Load() != 0 {
		t.Error("unconfigured catalog must not log in")
	}
}

func TestSpaceTrackWithoutCredentials(t *testing.T) {
	srv := newFakeSpaceTrack(t, false)
	p := NewSpaceTrack(SpaceTrackConfig{BaseURL: srv.URL}, testPropagator(t), testPool(), testLogger)

	_, err := p.Fetch(context.Background(), acquired)
	if !errors.Is(err, ErrConfiguration) || !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrConfiguration and ErrSourceUnavailable", err)
	}
	if srv.logins.Load() != 0 || srv.queries.Load() != 0 {
		t.Error("unconfigured provider must not touch the network")
	}
}

func TestSpaceTrackFetch(t *testing.T) {
	srv := newFakeSpaceTrack(t, false)
	p := NewSpaceTrack(SpaceTrackConfig{BaseURL: srv.URL, Username: "user", Password: "pass"}, testPropagator(t), testPool(), testLogger)
	p.now = func() time.Time { return acquired }

	snap, err := p.Fetch(context.Background(), acquired)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.DataSource != TagSpaceTrack {
		t.Errorf("data_source = %q", snap.DataSource)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Name != "STARLINK-1007" {
		t.Fatalf("positions = %+v", snap.Positions)
	}

	// Past the element TTL but inside the session: re-query without logging in.
	if _, err := p.Fetch(context.Background(), acquired.Add(45*time.Minute)); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if got := srv.logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}
	if got := srv.queries.Load(); got != 2 {
		t.Errorf("queries = %d, want 2", got)
	}

	// After the session expires the provider logs in again.
	p.now = func() time.Time { return acquired.Add(2 * time.Hour) }
	if _, err := p.Fetch(context.Background(), acquired.Add(2*time.Hour)); err != nil {
		t.Fatalf("third Fetch: %v", err)
	}
	if got := srv.logins.Load(); got != 2 {
		t.Errorf("logins after session expiry = %d, want 2", got)
	}
}

func TestSpaceTrackRejectedLogin(t *testing.T) {
	srv := newFakeSpaceTrack(t, true)
	p := NewSpaceTrack(SpaceTrackConfig{BaseURL: srv.URL, Username: "user", Password: "wrong"}, testPropagator(t), testPool(), testLogger)

	_, err := p.Fetch(context.Background(), acquired)
	if !errors.Is(err, ErrSourceUnavailable) || !errors.Is(err, errSpaceTrackAuth) {
		t.Fatalf("err = %v, want auth failure", err)
	}
	if srv.queries.Load() != 0 {
		t.Error("query issued after failed login")
	}
}

func satelliteMapServer(t *testing.T, listing string, sessions *atomic.Int32, listStatus *atomic.Int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/keys/session", func(w http.ResponseWriter, r *http.Request) {
		n := sessions.Add(1)
		fmt.Fprintf(w, `{"success":true,"data":{"key":"key-%d"}}`, n)
	})
	mux.HandleFunc("GET /satellites", func(w http.ResponseWriter, r *http.Request) {
		if code := int(listStatus.Load()); code != 0 {
			w.WriteHeader(code)
			return
		}
		q := r.URL.Query()
		if !strings.HasPrefix(q.Get("key"), "key-") || q.Get("constellation") != "starlink" || q.Get("status") != "active" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, listing)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func satelliteMapListing() string {
	entries := []map[string]any{
		{"norad_id": 50001, "name": "STARLINK-5001", "status": "active", "lat": 10.5, "lng": -20.25, "alt": 550.0, "velocity": 7.6},
		{"norad_id": 44713, "name": "STARLINK-1007", "status": "active", "tle_line1": starlinkLine1, "tle_line2": starlinkLine2},
		{"norad_id": 50002, "name": "STARLINK-5002", "status": "active"},
	}
	b, _ := json.Marshal(entries)
	return string(b)
}

func TestSatelliteMapFetch(t *testing.T) {
	var sessions, listStatus atomic.Int32
	srv := satelliteMapServer(t, satelliteMapListing(), &sessions, &listStatus)
	p := NewSatelliteMap(SatelliteMapConfig{BaseURL: srv.URL}, testPropagator(t), testLogger)

	snap, err := p.Fetch(context.Background(), acquired)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.DataSource != TagSatelliteMap {
		t.Errorf("data_source = %q", snap.DataSource)
	}
	if snap.SatelliteCount != 3 || snap.PositionsCalculated != 2 {
		t.Fatalf("counts = %d/%d, want 3/2", snap.SatelliteCount, snap.PositionsCalculated)
	}

	reported := snap.Positions[0]
	if reported.NORADID != 50001 || reported.Lat != 10.5 || reported.Lng != -20.25 || reported.AltitudeKm != 550 {
		t.Errorf("reported position = %+v", reported)
	}
	if math.Abs(reported.VelocityKmh-7.6*3600) > 1e-6 {
		t.Errorf("velocity_kmh = %v, want %v", reported.VelocityKmh, 7.6*3600)
	}

	propagated := snap.Positions[1]
	if propagated.NORADID != 44713 || propagated.AltitudeKm < 400 || propagated.AltitudeKm > 700 {
		t.Errorf("propagated position = %+v", propagated)
	}

	if _, err := p.Fetch(context.Background(), acquired); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if got := sessions.Load(); got != 1 {
		t.Errorf("sessions = %d, want 1 (key reused)", got)
	}
}

func TestSatelliteMapRenewsRejectedKey(t *testing.T) {
	var sessions, listStatus atomic.Int32
	srv := satelliteMapServer(t, satelliteMapListing(), &sessions, &listStatus)
	p := NewSatelliteMap(SatelliteMapConfig{BaseURL: srv.URL}, testPropagator(t), testLogger)

	listStatus.Store(http.StatusUnauthorized)
	if _, err := p.Fetch(context.Background(), acquired); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}

	listStatus.Store(0)
	if _, err := p.Fetch(context.Background(), acquired); err != nil {
		t.Fatalf("Fetch after renewal: %v", err)
	}
	if got := sessions.Load(); got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
}

func TestSatelliteMapWrappedListing(t *testing.T) {
	var sessions, listStatus atomic.Int32
	srv := satelliteMapServer(t, `{"success":true,"data":`+satelliteMapListing()+`}`, &sessions, &listStatus)
	p := NewSatelliteMap(SatelliteMapConfig{BaseURL: srv.URL}, testPropagator(t), testLogger)

	snap, err := p.Fetch(context.Background(), acquired)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.SatelliteCount != 3 {
		t.Errorf("satellite_count = %d, want 3", snap.SatelliteCount)
	}
}

func TestAviationEdge(t *testing.T) {
	var hits atomic.Int32
	body := `[
		{"noradID": "44713", "satelliteName": "STARLINK-1007", "lat": 12.5, "lng": 100.0, "alt": 548.2, "velocity": 7.59},
		{"noradID": 50003, "satelliteName": "Starlink-5003", "lat": -30.0, "lng": -60.0},
		{"noradID": 25544, "satelliteName": "ISS (ZARYA)", "lat": 1.0, "lng": 2.0}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/satelliteDatabase" || r.URL.Query().Get("key") != "secret" {
			fmt.Fprint(w, `{"error":{"text":"No Record Found"}}`)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	t.Run("without key", func(t *testing.T) {
		p := NewAviationEdge(AviationEdgeConfig{BaseURL: srv.URL}, testLogger)
		if _, err := p.Fetch(context.Background(), acquired); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("err = %v, want ErrConfiguration", err)
		}
		if hits.Load() != 0 {
			t.Error("unconfigured provider must not touch the network")
		}
	})

	t.Run("filters and normalises rows", func(t *testing.T) {
		p := NewAviationEdge(AviationEdgeConfig{BaseURL: srv.URL, APIKey: "secret"}, testLogger)
		snap, err := p.Fetch(context.Background(), acquired)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if snap.DataSource != TagAviationEdge || len(snap.Positions) != 2 {
			t.Fatalf("snapshot = %s with %d positions", snap.DataSource, len(snap.Positions))
		}
		if snap.Positions[0].NORADID != 44713 || snap.Positions[0].AltitudeKm != 548.2 {
			t.Errorf("first row = %+v", snap.Positions[0])
		}
		if snap.Positions[1].AltitudeKm != aviationEdgeDefaultAltKm || math.Abs(snap.Positions[1].VelocityKmh-aviationEdgeDefaultVelocity*3600) > 1e-6 {
			t.Errorf("defaults not applied: %+v", snap.Positions[1])
		}
	})

	t.Run("error object", func(t *testing.T) {
		p := NewAviationEdge(AviationEdgeConfig{BaseURL: srv.URL, APIKey: "wrong"}, testLogger)
		if _, err := p.Fetch(context.Background(), acquired); !errors.Is(err, ErrSourceUnavailable) {
			t.Fatalf("err = %v, want ErrSourceUnavailable", err)
		}
	})
}

func TestSyntheticIsDeterministic(t *testing.T) {
	now := time.Date(2026, 2, 6, 4, 1, 0, 0, time.UTC)
	a := NewSynthetic(42, 0).Snapshot(now)
	b := NewSynthetic(42, 0).Snapshot(now)

	if a.DataSource != TagFallback || a.Note == "" {
		t.Errorf("synthetic snapshot not labelled: source=%q note=%q", a.DataSource, a.Note)
	}
	if len(a.Positions) != DefaultSyntheticCount {
		t.Fatalf("positions = %d, want %d", len(a.Positions), DefaultSyntheticCount)
	}
	for i := range a.Positions {
		if a.Positions[i] != b.Positions[i] {
			t.Fatalf("position %d differs between runs: %+v vs %+v", i, a.Positions[i], b.Positions[i])
		}
		p := a.Positions[i]
		if p.Lat < -90 || p.Lat > 90 || p.Lng <= -180 || p.Lng > 180 {
			t.Errorf("position %d out of range: %+v", i, p)
		}
	}

	c := NewSynthetic(7, 0).Snapshot(now)
	if c.Positions[0] == a.Positions[0] {
		t.Error("different seeds produced identical positions")
	}
}

func TestCoverageStats(t *testing.T) {
	mk := func(n int, status string) []Position {
		ps := make([]Position, n)
		for i := range ps {
			ps[i].Status = status
		}
		return ps
	}

	tests := []struct {
		name       string
		positions  []Position
		wantCover  float64
		wantActive float64
	}{
		{"empty", nil, 0, 0},
		{"five", mk(5, ""), 50, 5},
		{"capped", mk(25, "active"), 100, 25},
		{"inactive ignored", append(mk(3, "active"), mk(4, "deorbiting")...), 30, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoverageStats(tt.positions)
			if got["global_coverage"] != tt.wantCover || got["active_satellites"] != tt.wantActive {
				t.Errorf("CoverageStats = %v", got)
			}
			if got["total_tracked"] != float64(len(tt.positions)) {
				t.Errorf("total_tracked = %v", got["total_tracked"])
			}
		})
	}
}

func TestSnapshotJSONFieldNames(t *testing.T) {
	snap := NewSnapshot(TagCelesTrak, acquired, []Position{{Name: "STARLINK-1007", NORADID: 44713, Lat: 1, Lng: 2, AltitudeKm: 550, VelocityKmh: 27000}}, 5, 1.234)

	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"timestamp", "satellite_count", "positions_calculated", "positions", "data_source", "tle_age_hours", "snapshot_id", "coverage"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing field %q in %s", k, b)
		}
	}
	if m["tle_age_hours"] != 1.23 {
		t.Errorf("tle_age_hours = %v, want 1.23", m["tle_age_hours"])
	}

	pos := m["positions"].([]any)[0].(map[string]any)
	for _, k := range []string{"name", "norad_id", "lat", "lng", "altitude_km", "velocity_kmh"} {
		if _, ok := pos[k]; !ok {
			t.Errorf("position missing field %q", k)
		}
	}
	if _, ok := m["note"]; ok {
		t.Error("empty note should be omitted")
	}
}
