package metrics

import (
	"runtime"
	"time"
)

// Flush outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordStoreOperation records a store operation
func (r *Registry) RecordStoreOperation(operation, status string, duration time.Duration) {
	r.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetGraphCounts publishes the latest node and edge counts.
func (r *Registry) SetGraphCounts(nodes, edges int64) {
	r.GraphNodesTotal.Set(float64(nodes))
	r.GraphEdgesTotal.Set(float64(edges))
}

// RecordFlush records one batch flush of size records.
func (r *Registry) RecordFlush(loader, status string, records int, duration time.Duration) {
	r.LoaderFlushesTotal.WithLabelValues(loader, status).Inc()
	r.LoaderFlushDuration.WithLabelValues(loader).Observe(duration.Seconds())
	if status == StatusSuccess {
		r.LoaderRecordsTotal.WithLabelValues(loader).Add(float64(records))
	}
}

// RecordDropped adds n referential-gap drops.
func (r *Registry) RecordDropped(loader string, n int) {
	if n > 0 {
		r.LoaderDroppedTotal.WithLabelValues(loader).Add(float64(n))
	}
}

// RecordRetry counts one retried flush attempt.
func (r *Registry) RecordRetry(loader string) {
	r.LoaderRetriesTotal.WithLabelValues(loader).Inc()
}

// RecordDuplicates adds n repeated person ids.
func (r *Registry) RecordDuplicates(loader string, n int) {
	if n > 0 {
		r.LoaderDuplicatesTotal.WithLabelValues(loader).Add(float64(n))
	}
}

// RecordIngestRow counts one output row by status.
func (r *Registry) RecordIngestRow(status string) {
	r.IngestRowsTotal.WithLabelValues(status).Inc()
}

// RecordCommit counts one ingest commit.
func (r *Registry) RecordCommit() {
	r.IngestCommitsTotal.Inc()
}

// RecordExtractPage records one fetched page of rows triples.
func (r *Registry) RecordExtractPage(rows int) {
	r.ExtractPagesTotal.Inc()
	r.ExtractRowsTotal.Add(float64(rows))
}

// RecordExtraction records the duration of one core-batch extraction.
func (r *Registry) RecordExtraction(status string, duration time.Duration) {
	r.ExtractDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordArtifact counts one written artifact.
func (r *Registry) RecordArtifact(kind string) {
	r.ExtractArtifactsTotal.WithLabelValues(kind).Inc()
}

// RecordResume records a checkpoint hit that skipped records.
func (r *Registry) RecordResume(loader string, completed bool, skipped int64) {
	kind := "partial"
	if completed {
		kind = "completed"
	}
	r.CheckpointResumesTotal.WithLabelValues(loader, kind).Inc()
	if skipped > 0 {
		r.CheckpointSkippedTotal.WithLabelValues(loader).Add(float64(skipped))
	}
}

// UpdateSystemMetrics samples uptime and Go runtime statistics.
func (r *Registry) UpdateSystemMetrics(start time.Time) {
	r.UptimeSeconds.Set(time.Since(start).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
