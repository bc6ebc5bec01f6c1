package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store Metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	GraphNodesTotal        prometheus.Gauge
	GraphEdgesTotal        prometheus.Gauge

	// Loader Metrics
	LoaderRecordsTotal    *prometheus.CounterVec
	LoaderFlushesTotal    *prometheus.CounterVec
	LoaderFlushDuration   *prometheus.HistogramVec
	LoaderDroppedTotal    *prometheus.CounterVec
	LoaderRetriesTotal    *prometheus.CounterVec
	LoaderDuplicatesTotal *prometheus.CounterVec

	// Output Ingest Metrics
	IngestRowsTotal    *prometheus.CounterVec
	IngestCommitsTotal prometheus.Counter

	// Extraction Metrics
	ExtractPagesTotal     prometheus.Counter
	ExtractRowsTotal      prometheus.Counter
	ExtractDuration       *prometheus.HistogramVec
	ExtractArtifactsTotal *prometheus.CounterVec

	// Checkpoint Metrics
	CheckpointResumesTotal *prometheus.CounterVec
	CheckpointSkippedTotal *prometheus.CounterVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initEndpointMetrics()
	r.initStoreMetrics()
	r.initLoaderMetrics()
	r.initIngestMetrics()
	r.initExtractMetrics()
	r.initCheckpointMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
