package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/skytrack/internal/auth"
	"github.com/star/skytrack/internal/health"
	"github.com/star/skytrack/internal/httputil"
	"github.com/star/skytrack/internal/metrics"
	"github.com/star/skytrack/internal/monitor"
	"github.com/star/skytrack/internal/observability"
	"github.com/star/skytrack/internal/resolver"
	"github.com/star/skytrack/internal/source"
	"github.com/star/skytrack/internal/stream"
	"github.com/star/skytrack/internal/tracker"
	"github.com/star/skytrack/internal/visibility"
)

// Tracker is the subset of tracker.Tracker the HTTP layer serves.
type Tracker interface {
	GetConstellationSnapshot(ctx context.Context) *source.Snapshot
	GetVisible(ctx context.Context, obs visibility.Observer, minElevation float64) (*tracker.VisibleResult, error)
	GetSatellite(ctx context.Context, noradID int) (*tracker.SatelliteResult, bool)
	Catalog(ctx context.Context) (*tracker.CatalogResult, error)
	Refresh(ctx context.Context) *source.Snapshot
	ResolverStats() resolver.Stats
	StartMonitoring() bool
	StopMonitoring() bool
	MonitoringStatus() monitor.Status
	Latest() *monitor.Payload
	Ready() error
}

// Manual refreshes bypass the snapshot cache and hit upstream providers, so
// they are throttled server-wide.
const (
	refreshEvery = 10 * time.Second
	refreshBurst = 3
)

// DefaultWriteTimeout is the floor for the server's write timeout.
const DefaultWriteTimeout = 30 * time.Second

// writeMargin covers encoding and visibility work after the resolver returns.
const writeMargin = 10 * time.Second

// WriteTimeoutFor returns a write timeout long enough for a snapshot request
// that walks every provider and ends on the synthetic fallback.
func WriteTimeoutFor(providers int, providerTimeout time.Duration) time.Duration {
	if providerTimeout <= 0 {
		providerTimeout = resolver.DefaultProviderTimeout
	}
	return max(DefaultWriteTimeout, time.Duration(providers)*providerTimeout+writeMargin)
}

// Options tunes the HTTP server.
type Options struct {
	TrustProxy   bool          // request logs report the forwarded client address
	WriteTimeout time.Duration // default DefaultWriteTimeout
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. streamHandler may be nil, in
// which case /api/v1/stream is not registered.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, opts Options, t Tracker, streamHandler *stream.Handler) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(t.Ready))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/satellites", satellitesHandler(t))
	mux.HandleFunc("GET /api/v1/satellites/visible", visibleHandler(logger, t))
	mux.HandleFunc("GET /api/v1/satellites/catalog", catalogHandler(logger, t))
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}", satelliteHandler(t))
	mux.HandleFunc("POST /api/v1/satellites/refresh", refreshHandler(t, rate.NewLimiter(rate.Every(refreshEvery), refreshBurst)))
	mux.HandleFunc("GET /api/v1/latest", latestHandler(t))
	mux.HandleFunc("GET /api/v1/status", statusHandler(t))
	mux.HandleFunc("POST /api/v1/monitoring/start", monitoringHandler(logger, t, true))
	mux.HandleFunc("POST /api/v1/monitoring/stop", monitoringHandler(logger, t, false))
	mux.HandleFunc("GET /api/v1/monitoring/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, t.MonitoringStatus())
	})
	if streamHandler != nil {
		mux.HandleFunc("GET /api/v1/stream", streamHandler.HandleStream)
	}

	// Build middleware chain: tracing -> metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, opts.TrustProxy)(handler)
	handler = metrics.Middleware(handler)
	handler = observability.HTTPHandler(handler, "skytrack", "/healthz", "/readyz", "/metrics", "/api/v1/stream")

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

type satellitesResponse struct {
	*source.Snapshot
	Coverage map[string]float64 `json:"coverage"`
}

// GET /api/v1/satellites
func satellitesHandler(t Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := t.GetConstellationSnapshot(r.Context())
		writeJSON(w, http.StatusOK, satellitesResponse{
			Snapshot: snap,
			Coverage: source.CoverageStats(snap.Positions),
		})
	}
}

// GET /api/v1/satellites/visible?lat=&lon=&alt=&elevation=
// Missing parameters default to the equator/prime meridian at sea level and
// a 10 degree elevation mask.
func visibleHandler(logger *slog.Logger, t Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var obs visibility.Observer
		minElevation := visibility.DefaultMinElevation

		for _, p := range []struct {
			name string
			dst  *float64
		}{
			{"lat", &obs.Lat},
			{"lon", &obs.Lon},
			{"alt", &obs.AltKm},
			{"elevation", &minElevation},
		} {
			v := q.Get(p.name)
			if v == "" {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+p.name+" parameter")
				return
			}
			*p.dst = f
		}
		if minElevation < -90 || minElevation > 90 {
			writeError(w, http.StatusBadRequest, "elevation must be in [-90, 90]")
			return
		}

		res, err := t.GetVisible(r.Context(), obs, minElevation)
		if err != nil {
			logger.Debug("rejected visibility query", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /api/v1/satellites/{norad_id}
func satelliteHandler(t Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("norad_id"))
		if err != nil || id < 1 {
			writeError(w, http.StatusBadRequest, "invalid NORAD ID")
			return
		}
		sat, ok := t.GetSatellite(r.Context(), id)
		if !ok {
			writeError(w, http.StatusNotFound, "satellite not found in current snapshot")
			return
		}
		writeJSON(w, http.StatusOK, sat)
	}
}

// GET /api/v1/satellites/catalog
func catalogHandler(logger *slog.Logger, t Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := t.Catalog(r.Context())
		switch {
		case errors.Is(err, tracker.ErrCatalogUnavailable):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
				"hint":  "set SKYTRACK_SPACETRACK_USERNAME and SKYTRACK_SPACETRACK_PASSWORD",
			})
		case err != nil:
			logger.Warn("catalog lookup failed", "error", err)
			writeError(w, http.StatusBadGateway, "catalog source unavailable")
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}

// POST /api/v1/satellites/refresh
func refreshHandler(t Tracker, limiter *rate.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(int(refreshEvery.Seconds())))
			writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
			return
		}
		snap := t.Refresh(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"message":         "snapshot refreshed",
			"snapshot_id":     snap.ID,
			"data_source":     snap.DataSource,
			"satellite_count": snap.SatelliteCount,
			"timestamp":       snap.Timestamp,
		})
	}
}

// GET /api/v1/latest
func latestHandler(t Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p := t.Latest(); p != nil {
			writeJSON(w, http.StatusOK, p)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "no data available yet",
			"timestamp": time.Now().UTC(),
		})
	}
}

// GET /api/v1/status
func statusHandler(t Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"timestamp":     time.Now().UTC(),
			"server_status": "running",
			"monitoring":    t.MonitoringStatus(),
			"resolver":      t.ResolverStats(),
		})
	}
}

// POST /api/v1/monitoring/start and /api/v1/monitoring/stop
func monitoringHandler(logger *slog.Logger, t Tracker, start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var changed bool
		message := "monitoring started"
		if start {
			changed = t.StartMonitoring()
		} else {
			changed = t.StopMonitoring()
			message = "monitoring stopped"
		}
		status := t.MonitoringStatus()
		switch {
		case changed:
		case status.Running:
			message = "monitoring already running"
		default:
			message = "monitoring already stopped"
		}
		logger.Info("monitoring toggled", "start", start, "changed", changed, "running", status.Running)

		writeJSON(w, http.StatusOK, map[string]any{
			"message":           message,
			"changed":           changed,
			"monitoring_active": status.Running,
			"timestamp":         time.Now().UTC(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
