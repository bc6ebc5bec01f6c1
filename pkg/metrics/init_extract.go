package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initExtractMetrics() {
	r.ExtractPagesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "contactgraph_extract_pages_total",
			Help: "Result pages fetched by 1-hop extraction",
		},
	)

	r.ExtractRowsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "contactgraph_extract_rows_total",
			Help: "Contact triples fetched by 1-hop extraction",
		},
	)

	r.ExtractDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contactgraph_extract_duration_seconds",
			Help:    "Time to extract one core batch at one tick",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"status"},
	)

	r.ExtractArtifactsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_extract_artifacts_total",
			Help: "Artifacts written by kind",
		},
		[]string{"kind"},
	)
}
