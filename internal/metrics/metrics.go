// Package metrics defines the Prometheus instrumentation for the service:
// HTTP request counters, cache build timings, and oracle query outcomes.
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
			Name: "orblink_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orblink_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	windowBuildSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orblink_window_build_seconds",
			Help:    "Duration of per-link visibility interval cache builds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	cachedIntervals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_cached_intervals",
			Help: "Total visibility intervals held across all link caches.",
		},
	)

	instanceBodies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_instance_bodies",
			Help: "Number of orbiting bodies in the loaded instance.",
		},
	)

	instanceLinks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_instance_links",
			Help: "Number of links in the loaded instance.",
		},
	)

	oracleQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orblink_oracle_queries_total",
			Help: "Oracle queries by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orblink_stream_connections_total",
			Help: "SSE stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_streams_active",
			Help: "Currently connected SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orblink_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orblink_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orblink_stream_errors_total",
			Help: "SSE stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		windowBuildSeconds,
		cachedIntervals,
		instanceBodies,
		instanceLinks,
		oracleQueriesTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWindowBuild records one per-link cache build duration.
func ObserveWindowBuild(d time.Duration) {
	windowBuildSeconds.Observe(d.Seconds())
}

// SetCachedIntervals publishes the total interval count across all caches.
func SetCachedIntervals(n int) {
	cachedIntervals.Set(float64(n))
}

// SetInstanceSize publishes the loaded instance dimensions.
func SetInstanceSize(bodies, links int) {
	instanceBodies.Set(float64(bodies))
	instanceLinks.Set(float64(links))
}

// IncOracleQuery counts one oracle query with its outcome label.
func IncOracleQuery(op, outcome string) {
	oracleQueriesTotal.WithLabelValues(op, outcome).Inc()
}

// IncStreamConnections counts a stream lifecycle event ("connect"/"disconnect").
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

// IncStreamsActive increments the active stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the active stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts one SSE data message.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes counts bytes written to a stream.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// normalizeRoute collapses parameterized and unknown paths to a bounded set
// of labels so bots and per-ID routes cannot blow up metric cardinality.
func normalizeRoute(path string) string {
	switch path {
	case "/", "/healthz", "/readyz", "/metrics",
		"/api/v1/instance", "/api/v1/lowerbound", "/api/v1/linegraph",
		"/api/v1/stream/visibility":
		return path
	}
	if strings.HasPrefix(path, "/api/v1/links/") {
		if strings.HasSuffix(path, "/next-visibility") {
			return "/api/v1/links/{id}/next-visibility"
		}
		if strings.HasSuffix(path, "/next-communication") {
			return "/api/v1/links/{id}/next-communication"
		}
	}
	if strings.HasPrefix(path, "/api/v1/bodies/") && strings.HasSuffix(path, "/orientation") {
		return "/api/v1/bodies/{id}/orientation"
	}
	return "other"
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

// Unwrap lets http.ResponseController reach the underlying writer for
// flushing and deadline control on streaming responses.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush forwards to the wrapped writer so SSE responses are not buffered.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
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
