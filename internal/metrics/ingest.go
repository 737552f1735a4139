// Package metrics provides Prometheus collectors for the ingest pipeline and
// the query API.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Histogram bucket layout shared by the collectors.
const (
	bucketStart100ms = 0.1
	bucketStart1ms   = 0.001
	bucketFactor2    = 2
	bucketCount12    = 12
)

// IngestMetrics contains Prometheus metrics for ingest runs
type IngestMetrics struct {
	registry *prometheus.Registry

	// Per-source fetch metrics
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	// Record outcome metrics
	recordsTotal *prometheus.CounterVec

	// Run-level metrics
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	reclassified    prometheus.Counter
	rollupRows      *prometheus.GaugeVec
	lastSuccessTime prometheus.Gauge
}

// NewIngestMetrics creates and registers new ingest metrics
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("register ingest metrics: %w", err)
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() {
	m.fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_source_fetches_total",
			Help: "Total number of source fetches",
		},
		[]string{"source", "status"}, // status: success, error
	)

	m.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ingest_source_fetch_duration_seconds",
			Help: "Time taken to fetch and transform one source",
			// 100ms to ~200s; rate-limited feeds can wait on the bucket
			Buckets: prometheus.ExponentialBuckets(bucketStart100ms, bucketFactor2, bucketCount12),
		},
		[]string{"source"},
	)

	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Total number of raw records processed by outcome",
		},
		[]string{"source_type", "outcome"}, // outcome: inserted, duplicate, skipped
	)

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_run_duration_seconds",
		Help:    "Wall time of a full pipeline run",
		Buckets: prometheus.ExponentialBuckets(1, bucketFactor2, bucketCount12),
	})

	m.reclassified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_reclassified_total",
		Help: "Total number of incidents whose classification was repaired",
	})

	m.rollupRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_rollup_rows",
			Help: "Rows written by the last rebuild per derived table",
		},
		[]string{"table"},
	)

	m.lastSuccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_last_success_timestamp_seconds",
		Help: "Unix time of the last run that finished without a fatal error",
	})
}

// Describe implements the Collector interface
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.fetchesTotal.Describe(ch)
	m.fetchDuration.Describe(ch)
	m.recordsTotal.Describe(ch)
	m.runsTotal.Describe(ch)
	m.runDuration.Describe(ch)
	m.reclassified.Describe(ch)
	m.rollupRows.Describe(ch)
	m.lastSuccessTime.Describe(ch)
}

// Collect implements the Collector interface
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	m.fetchesTotal.Collect(ch)
	m.fetchDuration.Collect(ch)
	m.recordsTotal.Collect(ch)
	m.runsTotal.Collect(ch)
	m.runDuration.Collect(ch)
	m.reclassified.Collect(ch)
	m.rollupRows.Collect(ch)
	m.lastSuccessTime.Collect(ch)
}

// RecordFetch records one source fetch and how long it took
func (m *IngestMetrics) RecordFetch(source, status string, seconds float64) {
	m.fetchesTotal.WithLabelValues(source, status).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(seconds)
}

// RecordRecords adds n records with the given outcome
func (m *IngestMetrics) RecordRecords(sourceType, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.recordsTotal.WithLabelValues(sourceType, outcome).Add(float64(n))
}

// RecordReclassified adds repaired classifications
func (m *IngestMetrics) RecordReclassified(n int) {
	if n > 0 {
		m.reclassified.Add(float64(n))
	}
}

// RecordRollup sets the row count for a derived table
func (m *IngestMetrics) RecordRollup(table string, rows int) {
	m.rollupRows.WithLabelValues(table).Set(float64(rows))
}

// RecordRun records a finished run
func (m *IngestMetrics) RecordRun(status string, seconds float64, finishedUnix float64) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
	if status == "success" {
		m.lastSuccessTime.Set(finishedUnix)
	}
}

// Push sends the registry to a Prometheus Pushgateway under the given job.
// Batch runs exit before a scrape could see them.
func Push(gatewayURL, job string, registry *prometheus.Registry) error {
	if err := push.New(gatewayURL, job).Gatherer(registry).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
