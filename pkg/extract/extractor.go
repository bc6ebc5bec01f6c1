package extract

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
)

// DefaultPageSize bounds each incoming-contact query.
const DefaultPageSize = 10000

// Options configures an Extractor.
type Options struct {
	PageSize      int
	CoreBatchSize int // 0 puts every core pid in one batch
	Logger        logging.Logger
	Metrics       *metrics.Registry
}

// Extractor builds incoming 1-hop subgraphs from a graph store.
type Extractor struct {
	store  graphstore.Store
	opts   Options
	logger logging.Logger
}

// NewExtractor returns an extractor reading from store.
func NewExtractor(store graphstore.Store, opts Options) (*Extractor, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize < 0 {
		return nil, fmt.Errorf("page size must be positive: got %d", opts.PageSize)
	}
	if opts.CoreBatchSize < 0 {
		return nil, fmt.Errorf("core batch size must not be negative: got %d", opts.CoreBatchSize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Extractor{store: store, opts: opts, logger: logger.With(logging.Component("extractor"))}, nil
}

// Extract returns the subgraph of every contact into a core pid at tick,
// together with both endpoints. Pages of PageSize are fetched until one
// comes back empty.
func (x *Extractor) Extract(ctx context.Context, tick int, core []int64) (*Multigraph, error) {
	g := NewMultigraph()
	g.SetAttr("tick", strconv.Itoa(tick))
	if len(core) == 0 {
		return g, nil
	}

	session, err := x.store.NewSession(ctx, graphstore.Read)
	if err != nil {
		return nil, err
	}
	defer session.Close(context.WithoutCancel(ctx))

	for skip := 0; ; skip += x.opts.PageSize {
		page, err := session.IncomingContacts(ctx, core, tick, skip, x.opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("incoming contacts at tick %d (skip %d): %w", tick, skip, err)
		}
		if len(page) == 0 {
			break
		}
		if x.opts.Metrics != nil {
			x.opts.Metrics.RecordExtractPage(len(page))
		}
		for _, t := range page {
			g.AddTriple(t)
		}
		x.logger.Debug("page fetched", logging.Tick(tick), logging.Int("skip", skip), logging.Count(len(page)))
	}
	return g, nil
}

// CoreBatches splits core into consecutive batches of at most size pids.
// A size below 1 yields a single batch.
func CoreBatches(core []int64, size int) [][]int64 {
	if len(core) == 0 {
		return nil
	}
	if size < 1 || size >= len(core) {
		return [][]int64{core}
	}
	var out [][]int64
	for start := 0; start < len(core); start += size {
		end := min(start+size, len(core))
		out = append(out, core[start:end])
	}
	return out
}

// Job is one tick's extraction. QueryTick is the occur value matched in
// the store, which is -1 when the initial network stands in for the tick.
type Job struct {
	Tick      int
	QueryTick int
	Core      []int64
}

// BatchResult describes one exported core batch.
type BatchResult struct {
	Tick      int
	Batch     int
	Core      int
	Nodes     int
	Edges     int
	MaxIn     int // most contacts into a single core pid
	Artifacts Artifacts
}

func maxInDegree(g *Multigraph, core []int64) int {
	most := 0
	for _, pid := range core {
		most = max(most, g.InDegree(pid))
	}
	return most
}

// Run extracts and exports every job, one artifact set per core batch.
func (x *Extractor) Run(ctx context.Context, jobs []Job, exp *Exporter) ([]BatchResult, error) {
	var results []BatchResult
	for _, job := range jobs {
		for i, core := range CoreBatches(job.Core, x.opts.CoreBatchSize) {
			start := time.Now()
			g, err := x.Extract(ctx, job.QueryTick, core)
			if err == nil {
				g.SetAttr("core_tick", strconv.Itoa(job.Tick))
				g.SetAttr("batch", strconv.Itoa(i))
				var names Artifacts
				names, err = exp.Export(ctx, g, job.Tick, i)
				if err == nil {
					res := BatchResult{
						Tick: job.Tick, Batch: i, Core: len(core),
						Nodes: g.NodeCount(), Edges: g.EdgeCount(),
						MaxIn: maxInDegree(g, core), Artifacts: names,
					}
					results = append(results, res)
					x.logger.Info("subgraph exported",
						logging.Tick(job.Tick),
						logging.Int("batch", i),
						logging.Int("nodes", res.Nodes),
						logging.Int("edges", res.Edges),
						logging.Int("max_in_degree", res.MaxIn),
						logging.Latency(time.Since(start)))
				}
			}
			if x.opts.Metrics != nil {
				status := metrics.StatusSuccess
				if err != nil {
					status = metrics.StatusError
				}
				x.opts.Metrics.RecordExtraction(status, time.Since(start))
			}
			if err != nil {
				return results, fmt.Errorf("extract tick %d batch %d: %w", job.Tick, i, err)
			}
		}
	}
	return results, nil
}

// Artifacts names the files of one exported subgraph.
type Artifacts struct {
	Graph     string
	Nodes     string
	Edges     string
	Durations string
}

// ArtifactNames returns the file names for suffix, tick and batch.
func ArtifactNames(suffix string, tick, batch int) Artifacts {
	tag := fmt.Sprintf("%s_t%d_%d", suffix, tick, batch)
	return Artifacts{
		Graph:     fmt.Sprintf("in_1nn_%s.graph.sz", tag),
		Nodes:     fmt.Sprintf("node_ttable_%s.csv", tag),
		Edges:     fmt.Sprintf("edge_ttable_%s.csv", tag),
		Durations: fmt.Sprintf("duration_dist_%s.csv", tag),
	}
}

// Exporter writes subgraph artifacts to a sink.
type Exporter struct {
	Sink        ArtifactSink
	Suffix      string
	DurationBin int
	Metrics     *metrics.Registry
}

// Export writes the graph, both tables and the duration histogram of g.
func (e *Exporter) Export(ctx context.Context, g *Multigraph, tick, batch int) (Artifacts, error) {
	names := ArtifactNames(e.Suffix, tick, batch)
	writes := []struct {
		kind, name string
		write      func(*bytes.Buffer) error
	}{
		{"graph", names.Graph, func(b *bytes.Buffer) error { return g.Save(b) }},
		{"node_table", names.Nodes, func(b *bytes.Buffer) error { return WriteNodeTable(b, g) }},
		{"edge_table", names.Edges, func(b *bytes.Buffer) error { return WriteEdgeTable(b, g) }},
		{"duration_dist", names.Durations, func(b *bytes.Buffer) error {
			return WriteHistogram(b, DurationHistogram(g, e.DurationBin))
		}},
	}

	var buf bytes.Buffer
	for _, w := range writes {
		buf.Reset()
		if err := w.write(&buf); err != nil {
			return names, fmt.Errorf("render %s: %w", w.name, err)
		}
		if err := e.Sink.Put(ctx, w.name, buf.Bytes()); err != nil {
			return names, err
		}
		if e.Metrics != nil {
			e.Metrics.RecordArtifact(w.kind)
		}
	}
	return names, nil
}
