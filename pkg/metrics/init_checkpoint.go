package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCheckpointMetrics() {
	r.CheckpointResumesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_checkpoint_resumes_total",
			Help: "Sources resumed from a checkpoint, by kind (partial or completed)",
		},
		[]string{"loader", "kind"},
	)

	r.CheckpointSkippedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactgraph_checkpoint_skipped_records_total",
			Help: "Records skipped because a checkpoint showed them committed",
		},
		[]string{"loader"},
	)
}
