package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576, 5242880}
)

// Metrics holds all Prometheus metric instruments for the console.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Engine metrics
	EngineOperationsTotal  *prometheus.CounterVec
	EngineOperationSeconds *prometheus.HistogramVec
	BatchEntriesTotal      *prometheus.CounterVec
	WorkspaceEngines       prometheus.Gauge

	// Backend metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	TokenRefreshesTotal    *prometheus.CounterVec
	LoginsTotal            *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	LookupCacheHitsTotal       *prometheus.CounterVec
	LookupCacheMissesTotal     *prometheus.CounterVec

	// System metrics
	DefinitionsLoaded   prometheus.Gauge
	OpenAPIPathsIndexed prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kwa_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kwa_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kwa_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		EngineOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_engine_operations_total",
			Help: "Total number of form/list engine operations.",
		}, []string{"endpoint", "operation", "outcome"}),
		EngineOperationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kwa_engine_operation_duration_seconds",
			Help:    "Form/list engine operation duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"endpoint", "operation"}),
		BatchEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_batch_entries_total",
			Help: "Pending entries submitted in batch creates, by outcome.",
		}, []string{"endpoint", "outcome"}),
		WorkspaceEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kwa_workspace_engines",
			Help: "Number of live engines held by the workspace.",
		}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_backend_requests_total",
			Help: "Total number of backend requests.",
		}, []string{"method", "route", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kwa_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"method", "route"}),
		TokenRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_token_refreshes_total",
			Help: "Total number of access token refreshes, by outcome.",
		}, []string{"outcome"}),
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_logins_total",
			Help: "Total number of console logins, by outcome.",
		}, []string{"outcome"}),

		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kwa_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kwa_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		LookupCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_lookup_cache_hits_total",
			Help: "Total lookup cache hits.",
		}, []string{"endpoint"}),
		LookupCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwa_lookup_cache_misses_total",
			Help: "Total lookup cache misses.",
		}, []string{"endpoint"}),

		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kwa_definitions_loaded",
			Help: "Number of loaded page definitions.",
		}),
		OpenAPIPathsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kwa_openapi_paths_indexed",
			Help: "Number of indexed backend OpenAPI operations.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.EngineOperationsTotal,
		m.EngineOperationSeconds,
		m.BatchEntriesTotal,
		m.WorkspaceEngines,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.TokenRefreshesTotal,
		m.LoginsTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
		m.DefinitionsLoaded,
		m.OpenAPIPathsIndexed,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordEngineOperation records one engine operation and its outcome
// ("success", "error" or "rejected").
func (m *Metrics) RecordEngineOperation(endpoint, operation, outcome string, duration time.Duration) {
	m.EngineOperationsTotal.WithLabelValues(endpoint, operation, outcome).Inc()
	m.EngineOperationSeconds.WithLabelValues(endpoint, operation).Observe(duration.Seconds())
}

// RecordBatchEntries records how many entries of a batch create succeeded
// and failed.
func (m *Metrics) RecordBatchEntries(endpoint string, succeeded, failed int) {
	m.BatchEntriesTotal.WithLabelValues(endpoint, "success").Add(float64(succeeded))
	m.BatchEntriesTotal.WithLabelValues(endpoint, "error").Add(float64(failed))
}

// SetWorkspaceEngines sets the number of live engines.
func (m *Metrics) SetWorkspaceEngines(count int) {
	m.WorkspaceEngines.Set(float64(count))
}

// RecordBackendRequest records a backend request. route is the endpoint
// template, not the concrete path.
func (m *Metrics) RecordBackendRequest(method, route string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTokenRefresh records an access token refresh.
func (m *Metrics) RecordTokenRefresh(outcome string) {
	m.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(outcome string) {
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordLookupCacheHit records a lookup cache hit.
func (m *Metrics) RecordLookupCacheHit(endpoint string) {
	m.LookupCacheHitsTotal.WithLabelValues(endpoint).Inc()
}

// RecordLookupCacheMiss records a lookup cache miss.
func (m *Metrics) RecordLookupCacheMiss(endpoint string) {
	m.LookupCacheMissesTotal.WithLabelValues(endpoint).Inc()
}

// SetDefinitionsLoaded sets the number of loaded page definitions.
func (m *Metrics) SetDefinitionsLoaded(count int) {
	m.DefinitionsLoaded.Set(float64(count))
}

// SetOpenAPIPathsIndexed sets the number of indexed backend operations.
func (m *Metrics) SetOpenAPIPathsIndexed(count int) {
	m.OpenAPIPathsIndexed.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
