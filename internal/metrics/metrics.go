package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/tapcommand-web/internal/version"
)

// ServerMetrics owns a private registry. Consumers depend on small
// interfaces declared in their own packages; *ServerMetrics satisfies all
// of them.
type ServerMetrics struct {
	reg       *prometheus.Registry
	handler   http.Handler
	buildInfo *prometheus.GaugeVec

	// http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	profilingActive prometheus.Gauge

	// query cache
	queryFetches     *prometheus.CounterVec
	queryFetchDur    *prometheus.HistogramVec
	queryCacheLookup *prometheus.CounterVec
	queryEntries     prometheus.Gauge

	// auth
	boundaryOutcomes *prometheus.CounterVec
	loginAttempts    *prometheus.CounterVec

	// backend api
	backendReqTotal *prometheus.CounterVec
	backendReqDur   *prometheus.HistogramVec

	// theme
	themeSource   *prometheus.GaugeVec
	themeLoadedTs prometheus.Gauge
	themePolls    *prometheus.CounterVec
}

// New returns a fresh registry + standard collectors + app metrics.
// Labels are bounded: route patterns, key families, fixed outcome names.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		queryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "query_fetches_total",
			Help: "Query fetch attempts (after retries) by key family and result",
		}, []string{"family", "result"}),
		queryFetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "query_fetch_duration_seconds",
			Help:    "Query fetch latency including retries, by key family",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"family"}),
		queryCacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "query_cache_lookups_total",
			Help: "Query cache lookups by key family and result (hit, stale, miss)",
		}, []string{"family", "result"}),
		queryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "query_cache_entries",
			Help: "Entries currently held by the query cache",
		}),
		boundaryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_boundary_outcomes_total",
			Help: "Route guard decisions by outcome (loading, redirect, render)",
		}, []string{"outcome"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login form submissions by result",
		}, []string{"result"}),
		backendReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Requests to the backend API by operation and status code",
		}, []string{"op", "code"}),
		backendReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Backend API latency by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		themeSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "theme_source_info",
			Help: "Current theme source (label carries value, gauge is always 1)",
		}, []string{"source"}),
		themeLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "theme_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the active theme was loaded",
		}),
		themePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theme_polls_total",
			Help: "Theme watcher polls by result (unchanged, swapped, fetch_error, invalid)",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.queryFetches,
		m.queryFetchDur,
		m.queryCacheLookup,
		m.queryEntries,
		m.boundaryOutcomes,
		m.loginAttempts,
		m.backendReqTotal,
		m.backendReqDur,
		m.themeSource,
		m.themeLoadedTs,
		m.themePolls,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the registry for tests and ad-hoc collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func (m *ServerMetrics) ObserveQueryFetch(family, result string, d time.Duration) {
	m.queryFetches.WithLabelValues(family, result).Inc()
	m.queryFetchDur.WithLabelValues(family).Observe(d.Seconds())
}

func (m *ServerMetrics) IncQueryCache(family, result string) {
	m.queryCacheLookup.WithLabelValues(family, result).Inc()
}

func (m *ServerMetrics) SetQueryEntries(n int) {
	m.queryEntries.Set(float64(n))
}

func (m *ServerMetrics) IncBoundaryOutcome(outcome string) {
	m.boundaryOutcomes.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncLogin(result string) {
	m.loginAttempts.WithLabelValues(result).Inc()
}

// ObserveBackendRequest records one backend call. code 0 means transport
// failure before a response arrived.
func (m *ServerMetrics) ObserveBackendRequest(op string, code int, d time.Duration) {
	m.backendReqTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
	m.backendReqDur.WithLabelValues(op).Observe(d.Seconds())
}

func (m *ServerMetrics) SetThemeLoaded(source string, t time.Time) {
	m.themeSource.Reset()
	m.themeSource.WithLabelValues(source).Set(1)
	m.themeLoadedTs.Set(float64(t.Unix()))
}

func (m *ServerMetrics) IncThemePoll(result string) {
	m.themePolls.WithLabelValues(result).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
