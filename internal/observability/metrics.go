// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Run metrics
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	PartialRuns        prometheus.Counter
	CandidatesSeen     prometheus.Counter
	OpportunitiesFound prometheus.Counter

	// Cache metrics
	ResultCacheHits    prometheus.Counter
	ResultCacheMisses  prometheus.Counter
	SingleflightShared prometheus.Counter

	// Estimator metrics
	CostLookups        *prometheus.CounterVec
	EstimatorFallbacks *prometheus.CounterVec
	LookupLatency      *prometheus.HistogramVec

	// Ingestion metrics
	TransactionsIngested prometheus.Counter
	SourceFailovers      prometheus.Counter

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tax_harvest_lab"
	}

	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of computation runs by outcome",
		}, []string{"status"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Computation run duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PartialRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "partial_runs_total",
			Help:      "Total number of runs that hit the deadline and returned partial results",
		}),
		CandidatesSeen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "candidates_total",
			Help:      "Total number of loss positions evaluated",
		}),
		OpportunitiesFound: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "opportunities_total",
			Help:      "Total number of eligible opportunities produced",
		}),

		ResultCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "result_hits_total",
			Help:      "Total number of report requests answered from the result cache",
		}),
		ResultCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "result_misses_total",
			Help:      "Total number of report requests that required a fresh run",
		}),
		SingleflightShared: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "singleflight_shared_total",
			Help:      "Total number of report requests coalesced onto an in-flight run",
		}),

		CostLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimator",
			Name:      "lookups_total",
			Help:      "Total number of cost lookups by source",
		}, []string{"kind", "source"}),
		EstimatorFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimator",
			Name:      "fallbacks_total",
			Help:      "Total number of lookups that degraded to stale or heuristic values",
		}, []string{"kind"}),
		LookupLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "estimator",
			Name:      "lookup_latency_seconds",
			Help:      "External lookup latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		TransactionsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_total",
			Help:      "Total number of transactions ingested",
		}),
		SourceFailovers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "source_failovers_total",
			Help:      "Total number of times the primary transaction source was benched",
		}),

		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful computation run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRun records a finished computation run.
func RecordRun(status string, durationSeconds float64) {
	DefaultMetrics.RunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.RunDuration.Observe(durationSeconds)
}

// RecordPartialRun increments the partial run counter.
func RecordPartialRun() {
	DefaultMetrics.PartialRuns.Inc()
}

// RecordCostLookup records one cost lookup with the source it resolved
// from (live, cache, stale or heuristic).
func RecordCostLookup(kind, source string) {
	DefaultMetrics.CostLookups.WithLabelValues(kind, source).Inc()
	if source == "stale" || source == "heuristic" {
		DefaultMetrics.EstimatorFallbacks.WithLabelValues(kind).Inc()
	}
}

// ObserveLookupLatency records how long one external cost lookup took.
func ObserveLookupLatency(kind string, seconds float64) {
	DefaultMetrics.LookupLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordResultCacheHit increments the result cache hit counter.
func RecordResultCacheHit() {
	DefaultMetrics.ResultCacheHits.Inc()
}

// RecordResultCacheMiss increments the result cache miss counter.
func RecordResultCacheMiss() {
	DefaultMetrics.ResultCacheMisses.Inc()
}

// RecordSingleflightShared increments the coalesced request counter.
func RecordSingleflightShared() {
	DefaultMetrics.SingleflightShared.Inc()
}

// RecordTransactionsIngested adds to the ingested transaction counter.
func RecordTransactionsIngested(n int) {
	DefaultMetrics.TransactionsIngested.Add(float64(n))
}

// RecordSourceFailover increments the source failover counter.
func RecordSourceFailover() {
	DefaultMetrics.SourceFailovers.Inc()
}
