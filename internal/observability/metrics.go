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
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	upstreamDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream (action store) metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamRetriesTotal    *prometheus.CounterVec
	UpstreamBreakerState    prometheus.Gauge

	// Collaboration metrics
	TransitionsTotal     *prometheus.CounterVec
	ConflictsTotal       *prometheus.CounterVec
	BackfillRunsTotal    *prometheus.CounterVec
	BackfillActionsTotal *prometheus.CounterVec
	SessionsActive       prometheus.Gauge

	// Cache metrics
	DescriptorCacheHitsTotal   prometheus.Counter
	DescriptorCacheMissesTotal prometheus.Counter
	DescriptorFallbacksTotal   prometheus.Counter
	MemberCacheHitsTotal       prometheus.Counter
	MemberCacheMissesTotal     prometheus.Counter

	// View-state metrics
	ViewStateWritesTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boardwalk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Upstream
		UpstreamRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_upstream_requests_total",
			Help: "Total number of action store requests.",
		}, []string{"operation", "status"}),
		UpstreamRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boardwalk_upstream_request_duration_seconds",
			Help:    "Action store request duration in seconds.",
			Buckets: upstreamDurationBuckets,
		}, []string{"operation"}),
		UpstreamRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_upstream_retries_total",
			Help: "Total number of action store request retries.",
		}, []string{"operation"}),
		UpstreamBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boardwalk_upstream_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		// Collaboration
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_transitions_total",
			Help: "Total number of status transition attempts.",
		}, []string{"result"}),
		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_conflicts_total",
			Help: "Total number of stale-version conflicts by operation.",
		}, []string{"operation"}),
		BackfillRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_backfill_runs_total",
			Help: "Total number of backfill runs by result.",
		}, []string{"result"}),
		BackfillActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_backfill_actions_total",
			Help: "Total number of legacy actions processed by outcome.",
		}, []string{"outcome"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boardwalk_sessions_active",
			Help: "Number of live project board sessions.",
		}),

		// Cache
		DescriptorCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardwalk_descriptor_cache_hits_total",
			Help: "Total workflow descriptor cache hits.",
		}),
		DescriptorCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardwalk_descriptor_cache_misses_total",
			Help: "Total workflow descriptor cache misses.",
		}),
		DescriptorFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardwalk_descriptor_fallbacks_total",
			Help: "Total resolutions that fell back to the built-in default descriptor.",
		}),
		MemberCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardwalk_member_cache_hits_total",
			Help: "Total member directory cache hits.",
		}),
		MemberCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardwalk_member_cache_misses_total",
			Help: "Total member directory cache misses.",
		}),

		// View state
		ViewStateWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardwalk_viewstate_writes_total",
			Help: "Total durable view-state writes by driver.",
		}, []string{"driver"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Upstream
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.UpstreamRetriesTotal,
		m.UpstreamBreakerState,
		// Collaboration
		m.TransitionsTotal,
		m.ConflictsTotal,
		m.BackfillRunsTotal,
		m.BackfillActionsTotal,
		m.SessionsActive,
		// Cache
		m.DescriptorCacheHitsTotal,
		m.DescriptorCacheMissesTotal,
		m.DescriptorFallbacksTotal,
		m.MemberCacheHitsTotal,
		m.MemberCacheMissesTotal,
		// View state
		m.ViewStateWritesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordUpstreamRequest records an action store request.
func (m *Metrics) RecordUpstreamRequest(operation string, status int, duration time.Duration) {
	m.UpstreamRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordUpstreamRetry records an action store request retry.
func (m *Metrics) RecordUpstreamRetry(operation string) {
	m.UpstreamRetriesTotal.WithLabelValues(operation).Inc()
}

// SetUpstreamBreakerState sets the circuit breaker state gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetUpstreamBreakerState(state float64) {
	m.UpstreamBreakerState.Set(state)
}

// RecordTransition records a transition attempt.
// Result: applied, noop, invalid, conflict, error.
func (m *Metrics) RecordTransition(result string) {
	m.TransitionsTotal.WithLabelValues(result).Inc()
}

// RecordConflict records a stale-version conflict for the given operation.
func (m *Metrics) RecordConflict(operation string) {
	m.ConflictsTotal.WithLabelValues(operation).Inc()
}

// RecordBackfillRun records a completed backfill evaluation.
// Result: completed, aborted, not_eligible.
func (m *Metrics) RecordBackfillRun(result string) {
	m.BackfillRunsTotal.WithLabelValues(result).Inc()
}

// RecordBackfillAction records one processed legacy action.
// Outcome: created, already_present, skipped.
func (m *Metrics) RecordBackfillAction(outcome string) {
	m.BackfillActionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDescriptorCacheHit records a descriptor cache hit.
func (m *Metrics) RecordDescriptorCacheHit() {
	m.DescriptorCacheHitsTotal.Inc()
}

// RecordDescriptorCacheMiss records a descriptor cache miss.
func (m *Metrics) RecordDescriptorCacheMiss() {
	m.DescriptorCacheMissesTotal.Inc()
}

// RecordDescriptorFallback records a fall back to the default descriptor.
func (m *Metrics) RecordDescriptorFallback() {
	m.DescriptorFallbacksTotal.Inc()
}

// RecordMemberCacheHit records a member directory cache hit.
func (m *Metrics) RecordMemberCacheHit() {
	m.MemberCacheHitsTotal.Inc()
}

// RecordMemberCacheMiss records a member directory cache miss.
func (m *Metrics) RecordMemberCacheMiss() {
	m.MemberCacheMissesTotal.Inc()
}

// RecordViewStateWrite records a durable view-state write.
func (m *Metrics) RecordViewStateWrite(driver string) {
	m.ViewStateWritesTotal.WithLabelValues(driver).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
