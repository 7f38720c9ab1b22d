// Package metrics exposes Prometheus instrumentation for the proxy.
//
// All recording methods are nil-safe: components accept a *Metrics and may
// be handed nil when metrics are disabled, which results in zero overhead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcome label values.
const (
	OutcomeHit       = "hit"
	OutcomeCoalesced = "coalesced"
	OutcomeFetched   = "fetched"
	OutcomeSticky    = "sticky_error"
	OutcomeRejected  = "rejected"
	OutcomeRedirect  = "referer_redirect"
)

// Metrics holds all proxy collectors, registered on a private registry so
// the metrics endpoint serves only our series plus the default process and
// Go collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	conditional304  prometheus.Counter
	upstreamFetches *prometheus.CounterVec
	fetchBytes      prometheus.Histogram
	fetchDuration   prometheus.Histogram
	inflightFetches prometheus.Gauge
	coalescedTotal  prometheus.Counter
	resizeJobs      *prometheus.CounterVec
	resizeDuration  prometheus.Histogram
	workerRecycles  prometheus.Counter
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelvault_requests_total",
				Help: "Proxy requests by outcome",
			},
			[]string{"outcome"},
		),
		conditional304: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pixelvault_conditional_revalidations_total",
				Help: "Requests answered 304 from conditional headers",
			},
		),
		upstreamFetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelvault_upstream_fetches_total",
				Help: "Upstream fetches by terminal result",
			},
			[]string{"result"},
		),
		fetchBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pixelvault_fetch_bytes",
				Help:    "Payload size of completed fetches in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		fetchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pixelvault_fetch_duration_seconds",
				Help:    "Wall time of upstream fetches",
				Buckets: prometheus.DefBuckets,
			},
		),
		inflightFetches: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelvault_inflight_fetches",
				Help: "Upstream fetches currently running",
			},
		),
		coalescedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pixelvault_coalesced_waiters_total",
				Help: "Requests that joined an already-running fetch",
			},
		),
		resizeJobs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelvault_resize_jobs_total",
				Help: "Resize jobs by result",
			},
			[]string{"result"},
		),
		resizeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pixelvault_resize_duration_seconds",
				Help:    "Duration of resize jobs",
				Buckets: prometheus.DefBuckets,
			},
		),
		workerRecycles: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pixelvault_resize_worker_recycles_total",
				Help: "Resize workers restarted after reaching their job limit",
			},
		),
	}
}

// Registry returns the underlying registry for the metrics HTTP server.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts one proxy request with the given outcome.
func (m *Metrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordConditionalHit counts a 304 served from conditional headers.
func (m *Metrics) RecordConditionalHit() {
	if m == nil {
		return
	}
	m.conditional304.Inc()
}

// FetchStarted marks an upstream fetch as in flight.
func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.inflightFetches.Inc()
}

// FetchFinished records a completed fetch with its terminal result
// ("ok", "toolarge", "badformat", "cannotread", "internal").
func (m *Metrics) FetchFinished(result string, bytes int64, dur time.Duration) {
	if m == nil {
		return
	}
	m.inflightFetches.Dec()
	m.upstreamFetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(dur.Seconds())
	if bytes > 0 {
		m.fetchBytes.Observe(float64(bytes))
	}
}

// RecordCoalesced counts a request that subscribed to an in-flight fetch.
func (m *Metrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.coalescedTotal.Inc()
}

// RecordResize records a resize job result ("ok" or "error").
func (m *Metrics) RecordResize(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.resizeJobs.WithLabelValues(result).Inc()
	m.resizeDuration.Observe(dur.Seconds())
}

// RecordWorkerRecycle counts a resize worker restart.
func (m *Metrics) RecordWorkerRecycle() {
	if m == nil {
		return
	}
	m.workerRecycles.Inc()
}
