package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skytrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skytrack_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	tleDatasetCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skytrack_tle_dataset_count",
			Help: "Number of element records in the current working set, by source.",
		},
		[]string{"source"},
	)

	tleDatasetAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skytrack_tle_dataset_age_seconds",
			Help: "Seconds since the element working set was last ingested, by source.",
		},
		[]string{"source"},
	)

	propagationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skytrack_propagation_duration_seconds",
			Help:    "Duration of a batch propagation.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"model"},
	)

	propagationSatellites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skytrack_propagation_satellites_total",
			Help: "Satellites propagated, labeled by model and result.",
		},
		[]string{"model", "result"},
	)

	propagationWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skytrack_propagation_workers",
			Help: "Configured propagation worker pool size.",
		},
	)

	providerFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skytrack_provider_fetch_total",
			Help: "Source provider fetch attempts, labeled by provider and result.",
		},
		[]string{"provider", "result"},
	)

	providerFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skytrack_provider_fetch_duration_seconds",
			Help:    "Source provider fetch latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"provider"},
	)

	resolverLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skytrack_resolver_lookups_total",
			Help: "Snapshot lookups, labeled by hit, miss or fallback.",
		},
		[]string{"result"},
	)

	snapshotPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skytrack_snapshot_positions",
			Help: "Positions in the most recently resolved snapshot, by data source.",
		},
		[]string{"data_source"},
	)

	monitorTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skytrack_monitor_ticks_total",
			Help: "Refresh loop ticks, labeled by result.",
		},
		[]string{"result"},
	)

	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skytrack_stream_connections_total",
			Help: "SSE connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skytrack_streams_active",
			Help: "Currently connected SSE clients.",
		},
	)

	streamMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skytrack_stream_messages_total",
			Help: "SSE messages sent.",
		},
	)

	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skytrack_stream_bytes_total",
			Help: "SSE bytes sent.",
		},
	)

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skytrack_stream_errors_total",
			Help: "SSE errors, labeled by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		tleDatasetCount,
		tleDatasetAge,
		propagationDuration,
		propagationSatellites,
		propagationWorkers,
		providerFetchTotal,
		providerFetchDuration,
		resolverLookups,
		snapshotPositions,
		monitorTicks,
		streamConnections,
		streamsActive,
		streamMessages,
		streamBytes,
		streamErrors,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetTLEDataset records the size and age of a source's element working set.
func SetTLEDataset(source string, count int, age time.Duration) {
	tleDatasetCount.WithLabelValues(source).Set(float64(count))
	tleDatasetAge.WithLabelValues(source).Set(age.Seconds())
}

// RecordPropagation records one batch propagation.
func RecordPropagation(model string, d time.Duration, success, failed int) {
	propagationDuration.WithLabelValues(model).Observe(d.Seconds())
	propagationSatellites.WithLabelValues(model, "success").Add(float64(success))
	propagationSatellites.WithLabelValues(model, "error").Add(float64(failed))
}

// SetPropagationWorkers records the worker pool size.
func SetPropagationWorkers(n int) {
	propagationWorkers.Set(float64(n))
}

// RecordProviderFetch records a provider attempt. result is "success",
// "empty", "error" or "unconfigured".
func RecordProviderFetch(provider, result string, d time.Duration) {
	providerFetchTotal.WithLabelValues(provider, result).Inc()
	providerFetchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// IncResolverLookup counts a resolver lookup: "hit", "miss" or "fallback".
func IncResolverLookup(result string) {
	resolverLookups.WithLabelValues(result).Inc()
}

// SetSnapshotPositions records the position count of the current snapshot.
// Other data sources are reset so only the active one is non-zero.
func SetSnapshotPositions(dataSource string, n int) {
	snapshotPositions.Reset()
	snapshotPositions.WithLabelValues(dataSource).Set(float64(n))
}

// IncMonitorTick counts a refresh loop tick: "ok" or "failed".
func IncMonitorTick(result string) {
	monitorTicks.WithLabelValues(result).Inc()
}

// IncStreamConnections counts an SSE "connect" or "disconnect".
func IncStreamConnections(event string) {
	streamConnections.WithLabelValues(event).Inc()
}

// IncStreamsActive increments the connected SSE client gauge.
func IncStreamsActive() {
	streamsActive.Inc()
}

// DecStreamsActive decrements the connected SSE client gauge.
func DecStreamsActive() {
	streamsActive.Dec()
}

// IncStreamMessages counts one SSE message.
func IncStreamMessages() {
	streamMessages.Inc()
}

// AddStreamBytes counts bytes written to SSE clients.
func AddStreamBytes(n int64) {
	streamBytes.Add(float64(n))
}

// IncStreamErrors counts an SSE error by reason.
func IncStreamErrors(reason string) {
	streamErrors.WithLabelValues(reason).Inc()
}

// knownRoutes are exact paths reported under their own label.
var knownRoutes = map[string]bool{
	"/":                          true,
	"/healthz":                   true,
	"/readyz":                    true,
	"/metrics":                   true,
	"/api/v1/satellites":         true,
	"/api/v1/satellites/visible": true,
	"/api/v1/satellites/catalog": true,
	"/api/v1/satellites/refresh": true,
	"/api/v1/latest":             true,
	"/api/v1/status":             true,
	"/api/v1/monitoring/start":   true,
	"/api/v1/monitoring/stop":    true,
	"/api/v1/monitoring/status":  true,
	"/api/v1/stream":             true,
}

// normalizeRoute maps a request path to a bounded label value.
// Per-satellite paths share one label; unknown paths collapse to "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, "/api/v1/satellites/"); ok && isDigits(id) {
		return "/api/v1/satellites/{norad_id}"
	}
	return "other"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE keeps working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
