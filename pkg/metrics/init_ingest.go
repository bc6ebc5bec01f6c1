package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initIngestMetrics() {
	r.IngestRowsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_ingest_rows_total",
			Help: "Simulation output rows by outcome",
		},
		[]string{"status"},
	)

	r.IngestCommitsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "contactgraph_ingest_commits_total",
			Help: "Relational store commits during output ingest",
		},
	)
}
