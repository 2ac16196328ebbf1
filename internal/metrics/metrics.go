package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/requestguard/internal/version"
)

// Decision outcomes used as the "outcome" label.
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// rate limiter
	decisionsTotal *prometheus.CounterVec
	capacityTotal  *prometheus.CounterVec
	configMismatch *prometheus.CounterVec
	sweepsTotal    *prometheus.CounterVec
	evictedTotal   *prometheus.CounterVec
	trackedClients *trackedClientsCollector
}

// New returns a fresh registry + standard collectors + HTTP and rate limiter
// metrics. Labels are bounded: method, route pattern, status, endpoint name.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
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
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		capacityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_capacity_rejections_total",
			Help: "New clients turned away because a limiter hit its client cap",
		}, []string{"endpoint"}),
		configMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_config_mismatch_total",
			Help: "Limiter names requested with limits that differ from the registered ones",
		}, []string{"endpoint"}),
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_sweeps_total",
			Help: "Client map sweeps by endpoint",
		}, []string{"endpoint"}),
		evictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_evicted_clients_total",
			Help: "Idle clients dropped by sweeps, by endpoint",
		}, []string{"endpoint"}),
		trackedClients: newTrackedClientsCollector(),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.decisionsTotal,
		m.capacityTotal,
		m.configMismatch,
		m.sweepsTotal,
		m.evictedTotal,
		m.trackedClients,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
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

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// ObserveDecision counts one rate limit decision. Matches the guard's
// decision hook signature.
func (m *ServerMetrics) ObserveDecision(endpoint string, allowed bool) {
	outcome := OutcomeRejected
	if allowed {
		outcome = OutcomeAllowed
	}
	m.decisionsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity(endpoint string) {
	m.capacityTotal.WithLabelValues(endpoint).Inc()
}

func (m *ServerMetrics) IncConfigMismatch(endpoint string) {
	m.configMismatch.WithLabelValues(endpoint).Inc()
}

// ObserveSweep records one sweep and how many clients it evicted.
func (m *ServerMetrics) ObserveSweep(endpoint string, evicted int) {
	m.sweepsTotal.WithLabelValues(endpoint).Inc()
	if evicted > 0 {
		m.evictedTotal.WithLabelValues(endpoint).Add(float64(evicted))
	}
}

// SetTrackedClientsSource installs the function read at scrape time for the
// ratelimit_tracked_clients gauge. A nil fn disables the gauge.
func (m *ServerMetrics) SetTrackedClientsSource(fn func() map[string]int) {
	m.trackedClients.set(fn)
}

// trackedClientsCollector reads per-endpoint client counts on each scrape so
// the limiter never has to push gauge updates from its hot path.
type trackedClientsCollector struct {
	desc *prometheus.Desc

	mu sync.RWMutex
	fn func() map[string]int
}

func newTrackedClientsCollector() *trackedClientsCollector {
	return &trackedClientsCollector{
		desc: prometheus.NewDesc(
			"ratelimit_tracked_clients",
			"Distinct clients currently tracked by each limiter",
			[]string{"endpoint"}, nil,
		),
	}
}

func (c *trackedClientsCollector) set(fn func() map[string]int) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

func (c *trackedClientsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *trackedClientsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	fn := c.fn
	c.mu.RUnlock()
	if fn == nil {
		return
	}
	for endpoint, n := range fn() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), endpoint)
	}
}
