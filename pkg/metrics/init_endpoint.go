package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// initEndpointMetrics covers the scrape endpoint itself and the process
// behind it.
func (r *Registry) initEndpointMetrics() {
	f := promauto.With(r.registry)
	route := []string{"method", "path", "status"}

	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "contactgraph_http_requests_total",
		Help: "Requests served by the metrics and health endpoint",
	}, route)
	r.HTTPRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contactgraph_http_request_duration_seconds",
		Help:    "Endpoint request latency in seconds",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5},
	}, route)
	r.HTTPRequestsInFlight = f.NewGauge(prometheus.GaugeOpts{
		Name: "contactgraph_http_requests_in_flight",
		Help: "Endpoint requests being served",
	})

	r.UptimeSeconds = f.NewGauge(prometheus.GaugeOpts{
		Name: "contactgraph_uptime_seconds",
		Help: "Seconds since the pipeline process started",
	})
	r.GoRoutines = f.NewGauge(prometheus.GaugeOpts{
		Name: "contactgraph_goroutines",
		Help: "Goroutines in the pipeline process",
	})
	r.MemoryAllocBytes = f.NewGauge(prometheus.GaugeOpts{
		Name: "contactgraph_memory_alloc_bytes",
		Help: "Heap bytes allocated by staged batches and readers",
	})
	r.MemorySysBytes = f.NewGauge(prometheus.GaugeOpts{
		Name: "contactgraph_memory_sys_bytes",
		Help: "Bytes obtained from the OS",
	})
}
