package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dd0wney/cluso-contactgraph/pkg/checkpoint"
	"github.com/dd0wney/cluso-contactgraph/pkg/config"
	"github.com/dd0wney/cluso-contactgraph/pkg/extract"
	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore/memstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore/neo4jstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/loader"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
	"github.com/dd0wney/cluso-contactgraph/pkg/outputdb"
	"github.com/dd0wney/cluso-contactgraph/pkg/telemetry"
	"github.com/dd0wney/cluso-contactgraph/pkg/validation"
)

// ErrNotConnected is returned by graph operations that run before connect.
var ErrNotConnected = errors.New("graph store not connected: run connect first")

// Options configures a Runner. Graph, Output and Sink replace the stores
// the configuration would otherwise open.
type Options struct {
	RunID    string
	Logger   logging.Logger
	Metrics  *metrics.Registry
	Reporter telemetry.Reporter

	Graph  graphstore.Store
	Output outputdb.Store
	Sink   extract.ArtifactSink
}

// Reports collects what each operation produced.
type Reports struct {
	Purge    *graphstore.PurgeResult
	Persons  *loader.PersonReport
	Initial  *loader.EdgeReport
	Slices   []loader.EdgeReport
	Ingest   *outputdb.IngestReport
	PIDsFile string
	Export   string
	Exported int64
	Extract  []extract.BatchResult
}

// Runner executes operations in order and owns the connections they open.
type Runner struct {
	cfg     *config.Config
	opts    Options
	logger  logging.Logger
	edition graphstore.Edition
	limiter *rate.Limiter

	// mu guards graph, output and current against health checks.
	mu          sync.RWMutex
	graph       graphstore.Store
	output      outputdb.Store
	current     progress
	checkpoints *checkpoint.Tracker
	pids        map[int][]int64

	Reports Reports
}

// NewRunner validates cfg and opens the checkpoint journal when enabled.
func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	edition, err := graphstore.ParseEdition(cfg.StoreConnection.Graph.Edition)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.RunID != "" {
		logger = logger.With(logging.RunID(opts.RunID))
	}
	opts.Logger = logger

	r := &Runner{
		cfg:     cfg,
		opts:    opts,
		logger:  logger.With(logging.Component("pipeline")),
		edition: edition,
		limiter: cfg.Limiter(),
	}
	if cfg.Checkpoint.Enabled {
		r.checkpoints, err = checkpoint.Open(cfg.Checkpoint.Dir, opts.RunID, logger)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Run executes ops in the order given and stops at the first failure.
func (r *Runner) Run(ctx context.Context, ops []string) error {
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		timer := logging.StartTimer(r.logger, "operation finished",
			logging.Operation(op), logging.Int("step", i+1), logging.Int("steps", len(ops)))
		r.logger.Info("operation started", logging.Operation(op), logging.Int("step", i+1))
		r.setProgress(progress{op: op, step: i + 1, steps: len(ops)})
		if err := r.runOp(ctx, op); err != nil {
			timer.EndError(err)
			return fmt.Errorf("%s: %w", op, err)
		}
		timer.End()
	}
	return nil
}

func (r *Runner) runOp(ctx context.Context, op string) error {
	switch op {
	case OpConnect:
		return r.connect(ctx)
	case OpCreateConstraints:
		return r.withGraph(ctx, graphstore.Write, func(s graphstore.Session) error {
			return s.EnsureConstraints(ctx, r.edition)
		})
	case OpCreateIndexes:
		return r.withGraph(ctx, graphstore.Write, func(s graphstore.Session) error {
			return s.EnsureIndexes(ctx)
		})
	case OpPurgeDB:
		return r.purge(ctx)
	case OpLoadNodes:
		return r.loadNodes(ctx)
	case OpLoadInitialEdges:
		return r.loadInitialEdges(ctx)
	case OpLoadEdges:
		return r.loadEdges(ctx)
	case OpCreateOutputDB:
		store, err := r.outputStore(ctx)
		if err != nil {
			return err
		}
		return store.CreateTable(ctx)
	case OpLoadOutput:
		return r.loadOutput(ctx)
	case OpCreateOutputIndexes:
		store, err := r.outputStore(ctx)
		if err != nil {
			return err
		}
		return store.RebuildIndexes(ctx)
	case OpFetchPIDs:
		return r.fetchPIDs(ctx)
	case OpExportOutput:
		return r.exportOutput(ctx)
	case OpExtract1NN:
		return r.extract(ctx)
	case OpResetCheckpoints:
		if r.checkpoints == nil {
			r.logger.Warn("checkpoints disabled, nothing to reset")
			return nil
		}
		return r.checkpoints.Reset()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
}

func (r *Runner) connect(ctx context.Context) error {
	if r.graph != nil {
		return r.graph.Verify(ctx)
	}
	g := r.cfg.StoreConnection.Graph
	store := r.opts.Graph
	if store == nil {
		switch g.Backend {
		case config.BackendMemory:
			store = memstore.New(r.edition)
		default:
			var err error
			store, err = neo4jstore.New(neo4jstore.Config{
				URI:                   g.URI(),
				Username:              g.Username,
				Password:              g.Password,
				Database:              g.Database,
				MaxConnectionLifetime: g.MaxConnectionLifetime,
				MaxConnectionPoolSize: g.MaxConnectionPoolSize,
				Logger:                r.opts.Logger,
				Metrics:               r.opts.Metrics,
			})
			if err != nil {
				return err
			}
		}
	}
	if err := store.Verify(ctx); err != nil {
		store.Close(context.WithoutCancel(ctx))
		return err
	}
	r.mu.Lock()
	r.graph = store
	r.mu.Unlock()
	r.logger.Info("graph store connected", logging.String("backend", g.Backend))
	return nil
}

func (r *Runner) withGraph(ctx context.Context, mode graphstore.AccessMode, fn func(graphstore.Session) error) error {
	if r.graph == nil {
		return ErrNotConnected
	}
	session, err := r.graph.NewSession(ctx, mode)
	if err != nil {
		return err
	}
	defer session.Close(context.WithoutCancel(ctx))
	return fn(session)
}

func (r *Runner) purge(ctx context.Context) error {
	return r.withGraph(ctx, graphstore.Write, func(s graphstore.Session) error {
		res, err := s.Purge(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		r.Reports.Purge = &res
		r.logger.Info("graph purged",
			logging.Int64("nodes", res.Nodes),
			logging.Int("indexes", res.Indexes),
			logging.Int("constraints", res.Constraints))
		return nil
	})
}

func (r *Runner) loaderOptions() loader.Options {
	return loader.Options{
		BatchSize:   r.cfg.BatchSize,
		HeaderRows:  r.cfg.HeaderRowsToSkip,
		Workers:     r.cfg.Parallel.Workers,
		Retry:       r.cfg.RetryPolicy(),
		Limiter:     r.limiter,
		Checkpoints: r.checkpoints,
		RunID:       r.opts.RunID,
		Logger:      r.opts.Logger,
		Metrics:     r.opts.Metrics,
		Reporter:    r.opts.Reporter,
	}
}

func (r *Runner) loadNodes(ctx context.Context) error {
	if r.graph == nil {
		return ErrNotConnected
	}
	l, err := loader.NewPersonLoader(r.graph, r.loaderOptions())
	if err != nil {
		return err
	}
	report, err := l.Load(ctx, r.cfg.SourcePaths.Persons)
	r.Reports.Persons = &report
	return err
}

func (r *Runner) edgeLoader() (*loader.EdgeLoader, error) {
	if r.graph == nil {
		return nil, ErrNotConnected
	}
	return loader.NewEdgeLoader(r.graph, r.loaderOptions())
}

func (r *Runner) loadInitialEdges(ctx context.Context) error {
	l, err := r.edgeLoader()
	if err != nil {
		return err
	}
	report, err := l.LoadInitial(ctx, r.cfg.SourcePaths.InitialNetwork)
	r.Reports.Initial = &report
	return err
}

func (r *Runner) loadEdges(ctx context.Context) error {
	l, err := r.edgeLoader()
	if err != nil {
		return err
	}
	sp := r.cfg.SourcePaths
	files, err := loader.DiscoverSlices(sp.NetworkDir, sp.NetworkPrefix, sp.Ticks, r.opts.Logger)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		r.logger.Warn("no contact network slices found",
			logging.Path(sp.NetworkDir), logging.String("prefix", sp.NetworkPrefix))
		return nil
	}
	reports, err := l.LoadSlices(ctx, files)
	r.Reports.Slices = reports
	return err
}

// outputStore opens the relational store on first use.
func (r *Runner) outputStore(ctx context.Context) (outputdb.Store, error) {
	if r.output != nil {
		return r.output, nil
	}
	store := r.opts.Output
	if store == nil {
		var err error
		if store, err = outputdb.Open(ctx, r.cfg.OutputDB(), r.opts.Logger); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	r.output = store
	r.mu.Unlock()
	return store, nil
}

func (r *Runner) loadOutput(ctx context.Context) error {
	store, err := r.outputStore(ctx)
	if err != nil {
		return err
	}
	in, err := outputdb.NewIngestor(store, outputdb.IngestOptions{
		CommitEvery:     r.cfg.Output.CommitEvery,
		HeaderRows:      r.cfg.HeaderRowsToSkip,
		FailOnRowErrors: r.cfg.Output.FailOnRowErrors,
		Retry:           r.cfg.RetryPolicy(),
		Checkpoints:     r.checkpoints,
		RunID:           r.opts.RunID,
		Logger:          r.opts.Logger,
		Metrics:         r.opts.Metrics,
		Reporter:        r.opts.Reporter,
	})
	if err != nil {
		return err
	}
	report, err := in.Ingest(ctx, r.cfg.SourcePaths.SimulationOutput)
	r.Reports.Ingest = &report
	return err
}

func (r *Runner) outDir() string {
	return validation.DefaultOr(r.cfg.Extract.OutDir, ".")
}

func (r *Runner) fetchPIDs(ctx context.Context) error {
	store, err := r.outputStore(ctx)
	if err != nil {
		return err
	}
	state := r.cfg.Extract.ExitState
	path, err := outputdb.WritePIDsByExitState(ctx, store, state, r.outDir())
	if err != nil {
		return err
	}
	pids, err := outputdb.ReadPIDsByExitState(path)
	if err != nil {
		return err
	}
	r.pids = pids
	r.Reports.PIDsFile = path
	r.logger.Info("pids by exit state written",
		logging.String("exit_state", state), logging.Path(path), logging.Int("ticks", len(pids)))
	return nil
}

func (r *Runner) exportOutput(ctx context.Context) error {
	store, err := r.outputStore(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.outDir(), 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.outDir(), r.cfg.OutputDB().Table+".csv")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := outputdb.Export(ctx, store, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	r.Reports.Export, r.Reports.Exported = path, n
	r.logger.Info("output exported", logging.Path(path), logging.Rows(n))
	return nil
}

// pidsByExitState prefers pids fetched earlier in this run, then a pids
// file from a previous run, then the relational store.
func (r *Runner) pidsByExitState(ctx context.Context) (map[int][]int64, error) {
	if r.pids != nil {
		return r.pids, nil
	}
	path := filepath.Join(r.outDir(), outputdb.PIDsFileName(r.cfg.Extract.ExitState))
	pids, err := outputdb.ReadPIDsByExitState(path)
	if err == nil {
		r.logger.Info("using pids file", logging.Path(path))
		return pids, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	store, err := r.outputStore(ctx)
	if err != nil {
		return nil, err
	}
	return store.PIDsByExitState(ctx, r.cfg.Extract.ExitState)
}

// Jobs turns a tick to pids map into extraction jobs in tick order.
// allow restricts the ticks when non-empty. With useInitial every job
// queries the initial network instead of its own tick.
func Jobs(pids map[int][]int64, allow []int, useInitial bool) []extract.Job {
	var jobs []extract.Job
	ticks := make([]int, 0, len(pids))
	for tick := range pids {
		ticks = append(ticks, tick)
	}
	slices.Sort(ticks)
	for _, tick := range ticks {
		if len(allow) > 0 && !slices.Contains(allow, tick) {
			continue
		}
		if len(pids[tick]) == 0 {
			continue
		}
		query := tick
		if useInitial {
			query = model.InitialOccur
		}
		jobs = append(jobs, extract.Job{Tick: tick, QueryTick: query, Core: pids[tick]})
	}
	return jobs
}

func (r *Runner) artifactSink(ctx context.Context) (extract.ArtifactSink, error) {
	if r.opts.Sink != nil {
		return r.opts.Sink, nil
	}
	if r.cfg.Artifacts.Sink == config.SinkS3 {
		sink, err := extract.NewS3Sink(ctx, r.cfg.S3())
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	return extract.DirSink{Dir: r.outDir()}, nil
}

func (r *Runner) extract(ctx context.Context) error {
	if r.graph == nil {
		return ErrNotConnected
	}
	pids, err := r.pidsByExitState(ctx)
	if err != nil {
		return err
	}
	ex := r.cfg.Extract
	jobs := Jobs(pids, ex.Ticks, ex.UseInitialNetwork)
	if len(jobs) == 0 {
		r.logger.Warn("no pids to extract", logging.String("exit_state", ex.ExitState))
		return nil
	}

	sink, err := r.artifactSink(ctx)
	if err != nil {
		return err
	}
	x, err := extract.NewExtractor(r.graph, extract.Options{
		PageSize:      ex.PageSize,
		CoreBatchSize: ex.CoreBatchSize,
		Logger:        r.opts.Logger,
		Metrics:       r.opts.Metrics,
	})
	if err != nil {
		return err
	}
	start := time.Now()
	results, err := x.Run(ctx, jobs, &extract.Exporter{
		Sink:        sink,
		Suffix:      ex.Suffix,
		DurationBin: ex.DurationBin,
		Metrics:     r.opts.Metrics,
	})
	r.Reports.Extract = results
	if err != nil {
		return err
	}
	r.logger.Info("subgraphs extracted",
		logging.Int("ticks", len(jobs)),
		logging.Count(len(results)),
		logging.String("location", sink.Location("")),
		logging.Latency(time.Since(start)))
	return nil
}

// Close releases every connection and the checkpoint journal.
func (r *Runner) Close(ctx context.Context) error {
	var errs []error
	if r.graph != nil {
		errs = append(errs, r.graph.Close(ctx))
	}
	if r.output != nil {
		errs = append(errs, r.output.Close())
	}
	if r.checkpoints != nil {
		errs = append(errs, r.checkpoints.Close())
	}
	return errors.Join(errs...)
}
