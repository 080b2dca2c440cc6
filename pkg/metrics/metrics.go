// Package metrics defines the Prometheus metric collectors used by the
// assignment service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	AssignmentsTotal      *prometheus.CounterVec
	AssignmentLatency     *prometheus.HistogramVec
	AssignmentAgents      prometheus.Histogram
	AssignmentProposals   prometheus.Histogram
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	FormationsStored      prometheus.Gauge
	ResultsPublishedTotal *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec
	RPCRequestsTotal      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Passing nil uses
// the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assignments_total",
				Help: "Assignment computations by outcome (ok, cached, invalid, exhausted, error).",
			},
			[]string{"result"},
		),
		AssignmentLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assignment_latency_seconds",
				Help:    "Time to produce an assignment, including cache lookups.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"cache_status"},
		),
		AssignmentAgents: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assignment_agents",
				Help:    "Number of agents per assignment request.",
				Buckets: []float64{1, 2, 3, 5, 8, 11, 16, 32, 64},
			},
		),
		AssignmentProposals: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assignment_proposals",
				Help:    "Proposals made before the matching converged.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assignment_cache_hits_total",
				Help: "Total number of assignment cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assignment_cache_misses_total",
				Help: "Total number of assignment cache misses.",
			},
		),
		FormationsStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "formations_stored",
				Help: "Number of formations in the registry.",
			},
		),
		ResultsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assignment_results_published_total",
				Help: "Assignment results flushed to Kafka by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		RPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "RPC calls by method and status.",
			},
			[]string{"method", "status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.AssignmentsTotal,
		m.AssignmentLatency,
		m.AssignmentAgents,
		m.AssignmentProposals,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.FormationsStored,
		m.ResultsPublishedTotal,
		m.CircuitBreakerState,
		m.RPCRequestsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
