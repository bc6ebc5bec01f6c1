package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dd0wney/cluso-contactgraph/pkg/health"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.LoaderFlushesTotal == nil {
		t.Error("LoaderFlushesTotal not initialized")
	}
	if r.IngestRowsTotal == nil {
		t.Error("IngestRowsTotal not initialized")
	}
	if r.ExtractPagesTotal == nil {
		t.Error("ExtractPagesTotal not initialized")
	}
	if r.CheckpointResumesTotal == nil {
		t.Error("CheckpointResumesTotal not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordFlush(t *testing.T) {
	r := NewRegistry()

	r.RecordFlush("persons", StatusSuccess, 500, 20*time.Millisecond)
	r.RecordFlush("persons", StatusSuccess, 120, 10*time.Millisecond)
	r.RecordFlush("persons", StatusError, 500, 5*time.Millisecond)

	if got := counterValue(t, r.LoaderFlushesTotal.WithLabelValues("persons", StatusSuccess)); got != 2 {
		t.Errorf("Success flushes = %v, want 2", got)
	}
	if got := counterValue(t, r.LoaderFlushesTotal.WithLabelValues("persons", StatusError)); got != 1 {
		t.Errorf("Error flushes = %v, want 1", got)
	}
	if got := counterValue(t, r.LoaderRecordsTotal.WithLabelValues("persons")); got != 620 {
		t.Errorf("Records = %v, want 620 (failed flushes excluded)", got)
	}

	histogram, err := r.LoaderFlushDuration.GetMetricWithLabelValues("persons")
	if err != nil {
		t.Fatalf("Failed to get histogram: %v", err)
	}
	var metric dto.Metric
	if err := histogram.(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("Sample count = %v, want 3", metric.Histogram.GetSampleCount())
	}
}

func TestRecordDroppedAndRetries(t *testing.T) {
	r := NewRegistry()

	r.RecordDropped("edges", 3)
	r.RecordDropped("edges", 0)
	r.RecordRetry("edges")
	r.RecordRetry("edges")
	r.RecordDuplicates("persons", 4)

	if got := counterValue(t, r.LoaderDroppedTotal.WithLabelValues("edges")); got != 3 {
		t.Errorf("Dropped = %v, want 3", got)
	}
	if got := counterValue(t, r.LoaderRetriesTotal.WithLabelValues("edges")); got != 2 {
		t.Errorf("Retries = %v, want 2", got)
	}
	if got := counterValue(t, r.LoaderDuplicatesTotal.WithLabelValues("persons")); got != 4 {
		t.Errorf("Duplicates = %v, want 4", got)
	}
}

func TestIngestAndExtractMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordIngestRow(StatusSuccess)
	r.RecordIngestRow(StatusSuccess)
	r.RecordIngestRow(StatusError)
	r.RecordCommit()
	r.RecordExtractPage(250)
	r.RecordExtractPage(0)
	r.RecordArtifact("graph")

	if got := counterValue(t, r.IngestRowsTotal.WithLabelValues(StatusSuccess)); got != 2 {
		t.Errorf("Ingested rows = %v, want 2", got)
	}
	if got := counterValue(t, r.IngestCommitsTotal); got != 1 {
		t.Errorf("Commits = %v, want 1", got)
	}
	if got := counterValue(t, r.ExtractPagesTotal); got != 2 {
		t.Errorf("Pages = %v, want 2", got)
	}
	if got := counterValue(t, r.ExtractRowsTotal); got != 250 {
		t.Errorf("Rows = %v, want 250", got)
	}
	if got := counterValue(t, r.ExtractArtifactsTotal.WithLabelValues("graph")); got != 1 {
		t.Errorf("Artifacts = %v, want 1", got)
	}
}

func TestRecordResume(t *testing.T) {
	r := NewRegistry()

	r.RecordResume("persons", false, 1000)
	r.RecordResume("edges", true, 0)

	if got := counterValue(t, r.CheckpointResumesTotal.WithLabelValues("persons", "partial")); got != 1 {
		t.Errorf("Partial resumes = %v, want 1", got)
	}
	if got := counterValue(t, r.CheckpointResumesTotal.WithLabelValues("edges", "completed")); got != 1 {
		t.Errorf("Completed resumes = %v, want 1", got)
	}
	if got := counterValue(t, r.CheckpointSkippedTotal.WithLabelValues("persons")); got != 1000 {
		t.Errorf("Skipped = %v, want 1000", got)
	}
}

func TestSystemMetrics(t *testing.T) {
	r := NewRegistry()
	r.UpdateSystemMetrics(time.Now().Add(-time.Minute))

	var metric dto.Metric
	if err := r.UptimeSeconds.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() < 59 {
		t.Errorf("Uptime = %v, want >= 59", metric.Gauge.GetValue())
	}
	if err := r.GoRoutines.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() < 1 {
		t.Errorf("Goroutines = %v, want >= 1", metric.Gauge.GetValue())
	}
}

func TestGetPrometheusRegistry(t *testing.T) {
	r := NewRegistry()
	r.SetGraphCounts(10, 4)

	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	expectedMetrics := []string{
		"contactgraph_graph_nodes_total",
		"contactgraph_ingest_commits_total",
		"contactgraph_uptime_seconds",
	}

	metricNames := make(map[string]bool)
	for _, m := range metrics {
		metricNames[m.GetName()] = true
	}
	for _, expected := range expectedMetrics {
		if !metricNames[expected] {
			t.Errorf("Expected metric %s not found", expected)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.RecordFlush("persons", StatusSuccess, 1, time.Millisecond)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if got := counterValue(t, r.LoaderFlushesTotal.WithLabelValues("persons", StatusSuccess)); got != 1000 {
		t.Errorf("Counter = %v, want 1000", got)
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	r.RecordFlush("persons", StatusSuccess, 1, time.Millisecond)
	r.RecordIngestRow(StatusSuccess)

	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, m := range metrics {
		if name := m.GetName(); !strings.HasPrefix(name, "contactgraph_") {
			t.Errorf("Metric %s does not have contactgraph_ prefix", name)
		}
	}
}

func TestServerRoutes(t *testing.T) {
	r := NewRegistry()
	r.RecordFlush("persons", StatusSuccess, 7, time.Millisecond)

	s := &Server{registry: r, start: time.Now()}
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `contactgraph_loader_records_total{loader="persons"} 7`) {
		t.Errorf("/metrics missing loader records:\n%s", body)
	}

	if got := counterValue(t, r.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200")); got != 1 {
		t.Errorf("HTTP requests for /healthz = %v, want 1", got)
	}
}

func TestServerHealthRoutes(t *testing.T) {
	hc := health.NewChecker(0)
	hc.RegisterReadiness("graph_store", health.PingCheck(nil))

	s := (&Server{registry: NewRegistry(), start: time.Now()}).WithHealth(hc)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusServiceUnavailable,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", NewRegistry(), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + s.Addr() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never became ready: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func BenchmarkRecordFlush(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordFlush("persons", StatusSuccess, 500, 5*time.Millisecond)
	}
}
