package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-contactgraph/pkg/batch"
	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
	"github.com/dd0wney/cluso-contactgraph/pkg/source"
)

// EdgeReport summarizes one contact file load.
type EdgeReport struct {
	File    string
	Occur   int
	Rows    int64
	Created int64
	Merged  int64 // rows matching an edge already stored under the same (occur, seq)
	Dropped int64 // rows whose endpoints were not both present
	Flushes int
	Skipped int64
	Retries int
	Elapsed time.Duration
}

// EdgeLoader creates CONTACT relationships from contact-network files.
type EdgeLoader struct {
	store  graphstore.Store
	opts   Options
	logger logging.Logger
}

// NewEdgeLoader validates opts and returns a loader writing to store.
func NewEdgeLoader(store graphstore.Store, opts Options) (*EdgeLoader, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("edge loader: %w", err)
	}
	return &EdgeLoader{
		store:  store,
		opts:   opts,
		logger: opts.logger().With(logging.Component("edge-loader")),
	}, nil
}

// LoadInitial loads the initial contact network, tagged occur = -1.
func (l *EdgeLoader) LoadInitial(ctx context.Context, path string) (EdgeReport, error) {
	return l.Load(ctx, path, model.InitialOccur)
}

// LoadSlices loads each time-slice file in order, stopping at the first
// failure. Reports for completed slices are returned either way.
func (l *EdgeLoader) LoadSlices(ctx context.Context, slices []SliceFile) ([]EdgeReport, error) {
	reports := make([]EdgeReport, 0, len(slices))
	for _, s := range slices {
		rep, err := l.Load(ctx, s.Path, s.Tick)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Load creates one edge per row of path, tagged with occur. Rows whose
// endpoints are missing are counted as dropped.
func (l *EdgeLoader) Load(ctx context.Context, path string, occur int) (EdgeReport, error) {
	start := time.Now()
	report := EdgeReport{File: path, Occur: occur}

	fp, err := l.opts.fingerprint(path)
	if err != nil {
		return report, err
	}
	key := fmt.Sprintf("%s@%d", path, occur)
	st := l.opts.resume(ContactsLoader, key, fp)
	if st.pos.Completed {
		l.logger.Info("contact file already loaded", logging.Path(path), logging.Tick(occur))
		report.Skipped = st.pos.Committed
		return report, nil
	}

	r, err := source.Open(path, source.Options{HeaderRows: l.opts.HeaderRows, Comma: l.opts.Comma})
	if err != nil {
		return report, err
	}
	defer r.Close()

	session, err := l.store.NewSession(ctx, graphstore.Write)
	if err != nil {
		return report, err
	}
	defer session.Close(context.WithoutCancel(ctx))

	coord, err := batch.NewCoordinator[model.ContactEdge](path, batch.Options{
		BatchSize: l.opts.BatchSize,
		Skip:      st.pos.Committed,
		OnCommit:  l.opts.onCommit(st),
		Retry:     l.opts.Retry,
		Retryable: l.store.Retryable,
		Limiter:   l.opts.Limiter,
		Loader:    ContactsLoader,
		RunID:     l.opts.RunID,
		Reporter:  l.opts.reporter(ContactsLoader),
		Logger:    l.opts.logger(),
	})
	if err != nil {
		return report, err
	}

	stats, err := coord.Run(ctx, &contactSource{reader: r, occur: occur}, contactSink{session: session})
	report.Rows = stats.Records
	report.Created = stats.Applied
	report.Merged = stats.Merged
	report.Dropped = stats.Dropped
	report.Flushes = stats.Flushes
	report.Skipped = stats.Skipped
	report.Retries = stats.Retries
	report.Elapsed = time.Since(start)
	if report.Dropped > 0 {
		l.logger.Warn("contacts dropped for missing endpoints",
			logging.Path(path), logging.Tick(occur), logging.Int64("dropped", report.Dropped))
	}
	if err != nil {
		return report, err
	}
	if err := l.opts.complete(st, stats.Skipped+stats.Records); err != nil {
		return report, err
	}

	l.logger.Info("contacts loaded",
		logging.Path(path),
		logging.Tick(occur),
		logging.Rows(report.Rows),
		logging.Int64("created", report.Created),
		logging.Int64("merged", report.Merged),
		logging.Latency(report.Elapsed))
	return report, nil
}
