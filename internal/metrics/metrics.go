// Package metrics provides Prometheus metrics for the mirror pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the mirror pipeline.
type Metrics struct {
	// Dataset outcome counters
	DatasetsIngested *prometheus.CounterVec
	DatasetsSkipped  *prometheus.CounterVec
	DatasetsFailed   *prometheus.CounterVec

	// Conversion metrics
	ConversionTimeouts *prometheus.CounterVec
	ConversionDuration prometheus.Histogram

	// Size metrics
	BytesIngested *prometheus.CounterVec

	// Pipeline metrics
	InFlightDatasets prometheus.Gauge

	// Error metrics
	StoreErrors   *prometheus.CounterVec
	CrawlerErrors *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "statmirror"
	}

	m := &Metrics{
		DatasetsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datasets_ingested_total",
				Help:      "Total number of datasets materialized and recorded",
			},
			[]string{"source"},
		),
		DatasetsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datasets_skipped_total",
				Help:      "Total number of datasets skipped by size ceilings",
			},
			[]string{"source"},
		),
		DatasetsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datasets_failed_total",
				Help:      "Total number of datasets that failed processing",
			},
			[]string{"source"},
		),
		ConversionTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_timeouts_total",
				Help:      "Total number of conversions killed at the wall clock budget",
			},
			[]string{"source"},
		),
		ConversionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conversion_duration_seconds",
				Help:      "Time to convert one dataset to parquet",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 13), // 0.1s to ~800s
			},
		),
		BytesIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_ingested_total",
				Help:      "Total parquet bytes written by ingestion",
			},
			[]string{"source"},
		),
		InFlightDatasets: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_datasets",
				Help:      "Number of datasets currently being processed",
			},
		),
		StoreErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of object store errors",
			},
			[]string{"source", "operation"},
		),
		CrawlerErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawler_errors_total",
				Help:      "Total number of external crawler sync errors",
			},
			[]string{"source"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncDatasetsIngested increments the ingested counter.
func (m *Metrics) IncDatasetsIngested(source string) {
	m.DatasetsIngested.WithLabelValues(source).Inc()
}

// IncDatasetsSkipped increments the skipped counter.
func (m *Metrics) IncDatasetsSkipped(source string) {
	m.DatasetsSkipped.WithLabelValues(source).Inc()
}

// IncDatasetsFailed increments the failed counter.
func (m *Metrics) IncDatasetsFailed(source string) {
	m.DatasetsFailed.WithLabelValues(source).Inc()
}

// IncConversionTimeouts increments the conversion timeout counter.
func (m *Metrics) IncConversionTimeouts(source string) {
	m.ConversionTimeouts.WithLabelValues(source).Inc()
}

// ObserveConversionDuration records one conversion's wall clock time.
func (m *Metrics) ObserveConversionDuration(seconds float64) {
	m.ConversionDuration.Observe(seconds)
}

// AddBytesIngested adds to the ingested bytes counter.
func (m *Metrics) AddBytesIngested(source string, bytes float64) {
	m.BytesIngested.WithLabelValues(source).Add(bytes)
}

// IncInFlightDatasets marks one dataset entering processing.
func (m *Metrics) IncInFlightDatasets() {
	m.InFlightDatasets.Inc()
}

// DecInFlightDatasets marks one dataset leaving processing.
func (m *Metrics) DecInFlightDatasets() {
	m.InFlightDatasets.Dec()
}

// IncStoreErrors increments the store errors counter.
func (m *Metrics) IncStoreErrors(source, operation string) {
	m.StoreErrors.WithLabelValues(source, operation).Inc()
}

// IncCrawlerErrors increments the crawler errors counter.
func (m *Metrics) IncCrawlerErrors(source string) {
	m.CrawlerErrors.WithLabelValues(source).Inc()
}
