package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initLoaderMetrics() {
	r.LoaderRecordsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_loader_records_total",
			Help: "Records submitted to a store by the batch coordinator",
		},
		[]string{"loader"},
	)

	r.LoaderFlushesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_loader_flushes_total",
			Help: "Batch flushes by outcome",
		},
		[]string{"loader", "status"},
	)

	r.LoaderFlushDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contactgraph_loader_flush_duration_seconds",
			Help:    "Time to commit one batch, retries included",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"loader"},
	)

	r.LoaderDroppedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_loader_dropped_total",
			Help: "Edges dropped because an endpoint did not exist",
		},
		[]string{"loader"},
	)

	r.LoaderRetriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_loader_retries_total",
			Help: "Flush attempts retried after a transient failure",
		},
		[]string{"loader"},
	)

	r.LoaderDuplicatesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_loader_duplicates_total",
			Help: "Person rows whose pid repeated an earlier row",
		},
		[]string{"loader"},
	)
}
