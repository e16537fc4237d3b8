// Package metrics provides Prometheus metrics for the static file stage.
package metrics

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitstatic_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path_class", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fruitstatic_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path_class"},
	)

	// Resolution metrics
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitstatic_resolutions_total",
			Help: "Total request resolutions by disposition",
		},
		[]string{"disposition"},
	)

	bytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fruitstatic_bytes_served_total",
			Help: "Total body bytes streamed to clients",
		},
	)

	streamErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fruitstatic_stream_errors_total",
			Help: "Total I/O failures while streaming a body",
		},
	)

	freshnessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitstatic_freshness_checks_total",
			Help: "Conditional request outcomes",
		},
		[]string{"result"},
	)

	// Index metrics
	indexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fruitstatic_index_entries",
			Help: "Number of entries currently held by the metadata index",
		},
	)

	indexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fruitstatic_index_build_duration_seconds",
			Help:    "Time to walk the origin and populate the metadata index",
			Buckets: prometheus.DefBuckets,
		},
	)

	indexLazyStatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fruitstatic_index_lazy_stats_total",
			Help: "Per-request origin stats performed in lazy index mode",
		},
		[]string{"result"},
	)

	// Origin metrics
	originOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fruitstatic_origin_operation_duration_seconds",
			Help:    "Origin (local or S3) operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"origin", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, pathClass string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, pathClass, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, pathClass).Observe(duration.Seconds())
}

// RecordResolution records the disposition chosen for a request.
func RecordResolution(disposition string) {
	resolutionsTotal.WithLabelValues(disposition).Inc()
}

// RecordBytesServed records streamed body bytes.
func RecordBytesServed(n int64) {
	bytesServed.Add(float64(n))
}

// RecordStreamError records a failed body transfer.
func RecordStreamError() {
	streamErrorsTotal.Inc()
}

// RecordFreshnessCheck records a conditional request outcome
// ("hit", "stale", "mismatch", "absent").
func RecordFreshnessCheck(result string) {
	freshnessChecksTotal.WithLabelValues(result).Inc()
}

// SetIndexEntries sets the current metadata index size.
func SetIndexEntries(n int) {
	indexEntries.Set(float64(n))
}

// RecordIndexBuild records an eager index build.
func RecordIndexBuild(duration time.Duration) {
	indexBuildDuration.Observe(duration.Seconds())
}

// RecordLazyStat records a lazy-mode origin stat ("hit", "miss", "error").
func RecordLazyStat(result string) {
	indexLazyStatsTotal.WithLabelValues(result).Inc()
}

// RecordOriginOperation records an origin operation.
func RecordOriginOperation(origin, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	originOperationDuration.WithLabelValues(origin, operation, status).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Paths are collapsed to their extension class to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, PathClass(r.URL.Path), rw.statusCode, time.Since(start))
	})
}

// PathClass maps a URL path to a low-cardinality label: the lowercase file
// extension, "health", or "other".
func PathClass(p string) string {
	if p == "/health" {
		return "health"
	}
	ext := path.Ext(p)
	if len(ext) < 2 || len(ext) > 9 {
		return "other"
	}
	return strings.ToLower(ext[1:])
}
