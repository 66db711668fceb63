// Package metrics defines the Prometheus collectors used by the mining
// engine and its service surfaces, and serves them for scraping.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	MiningRunsTotal       *prometheus.CounterVec
	MiningRunDuration     prometheus.Histogram
	MiningPhaseDuration   *prometheus.HistogramVec
	TransactionsProcessed prometheus.Counter
	FrequentItems         prometheus.Gauge
	PartitionTreeNodes    prometheus.Histogram
	PatternsEmitted       *prometheus.CounterVec
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	JobsConsumedTotal     *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
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
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MiningRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_runs_total",
				Help: "Total mining runs by outcome (ok, invalid_config, duplicate_item, error).",
			},
			[]string{"status"},
		),
		MiningRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mining_run_duration_seconds",
				Help:    "End-to-end mining run latency in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		MiningPhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mining_phase_duration_seconds",
				Help:    "Latency of each mining phase (count, project, build, extract).",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"phase"},
		),
		TransactionsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mining_transactions_processed_total",
				Help: "Total transactions fed into mining runs.",
			},
		),
		FrequentItems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mining_frequent_items",
				Help: "Number of frequent items found by the most recent run.",
			},
		),
		PartitionTreeNodes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mining_partition_tree_nodes",
				Help:    "Node count of each partition's FP-tree before extraction.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 12),
			},
		),
		PatternsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_patterns_emitted_total",
				Help: "Frequent patterns emitted, by partition.",
			},
			[]string{"partition"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_hits_total",
				Help: "Total number of mining result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_misses_total",
				Help: "Total number of mining result cache misses.",
			},
		),
		JobsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_jobs_consumed_total",
				Help: "Mining jobs consumed from Kafka by outcome.",
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
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MiningRunsTotal,
		m.MiningRunDuration,
		m.MiningPhaseDuration,
		m.TransactionsProcessed,
		m.FrequentItems,
		m.PartitionTreeNodes,
		m.PatternsEmitted,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.JobsConsumedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObservePhase records a phase latency. Safe on a nil receiver.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.MiningPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObservePartition records one partition's tree size and pattern yield.
// Safe on a nil receiver.
func (m *Metrics) ObservePartition(partition, nodes, patterns int) {
	if m == nil {
		return
	}
	m.PartitionTreeNodes.Observe(float64(nodes))
	m.PatternsEmitted.WithLabelValues(strconv.Itoa(partition)).Add(float64(patterns))
}

// ObserveRun records a finished run. Safe on a nil receiver.
func (m *Metrics) ObserveRun(status string, transactions int64, frequentItems int, d time.Duration) {
	if m == nil {
		return
	}
	m.MiningRunsTotal.WithLabelValues(status).Inc()
	m.MiningRunDuration.Observe(d.Seconds())
	m.TransactionsProcessed.Add(float64(transactions))
	if status == "ok" {
		m.FrequentItems.Set(float64(frequentItems))
	}
}
