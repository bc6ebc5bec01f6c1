package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-contactgraph/pkg/batch"
	"github.com/dd0wney/cluso-contactgraph/pkg/checkpoint"
	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
	"github.com/dd0wney/cluso-contactgraph/pkg/source"
)

// PersonReport summarizes one person file load.
type PersonReport struct {
	File       string
	Rows       int64 // data rows flushed by this run
	Applied    int64
	Duplicates int
	Flushes    int
	Partitions int
	Skipped    int64 // rows already committed by an earlier run
	Retries    int
	Elapsed    time.Duration
}

func (r *PersonReport) add(stats batch.Stats, duplicates int) {
	r.Rows += stats.Records
	r.Applied += stats.Applied
	r.Skipped += stats.Skipped
	r.Flushes += stats.Flushes
	r.Retries += stats.Retries
	r.Duplicates += duplicates
}

// PersonLoader upserts PERSON nodes from a person-trait file.
type PersonLoader struct {
	store  graphstore.Store
	opts   Options
	logger logging.Logger
}

// NewPersonLoader validates opts and returns a loader writing to store.
func NewPersonLoader(store graphstore.Store, opts Options) (*PersonLoader, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("person loader: %w", err)
	}
	return &PersonLoader{
		store:  store,
		opts:   opts,
		logger: opts.logger().With(logging.Component("person-loader")),
	}, nil
}

// Load upserts every row of path. The pid uniqueness constraint is ensured
// before the first flush. With more than one worker the file is split into
// newline-aligned partitions loaded concurrently; rows inside a partition
// keep file order.
func (l *PersonLoader) Load(ctx context.Context, path string) (PersonReport, error) {
	start := time.Now()
	var (
		report PersonReport
		err    error
	)
	if err := l.ensureUnique(ctx); err != nil {
		return PersonReport{File: path}, err
	}
	if l.opts.Workers > 1 {
		report, err = l.loadPartitioned(ctx, path)
	} else {
		report, err = l.loadFile(ctx, path)
	}
	report.File = path
	report.Elapsed = time.Since(start)
	if report.Duplicates > 0 {
		l.logger.Warn("duplicate pids in person file",
			logging.Path(path), logging.Int("duplicates", report.Duplicates))
		if l.opts.Metrics != nil {
			l.opts.Metrics.RecordDuplicates(PersonsLoader, report.Duplicates)
		}
	}
	if err != nil {
		return report, err
	}
	l.logger.Info("persons loaded",
		logging.Path(path),
		logging.Rows(report.Rows),
		logging.Int64("skipped", report.Skipped),
		logging.Int("partitions", report.Partitions),
		logging.Latency(report.Elapsed))
	return report, nil
}

// ensureUnique creates the community constraint set. MERGE on pid relies
// on it to keep concurrent partitions from racing into duplicate nodes.
func (l *PersonLoader) ensureUnique(ctx context.Context) error {
	session, err := l.store.NewSession(ctx, graphstore.Write)
	if err != nil {
		return err
	}
	defer session.Close(context.WithoutCancel(ctx))
	if err := session.EnsureConstraints(ctx, graphstore.Community); err != nil {
		return fmt.Errorf("ensure pid uniqueness: %w", err)
	}
	return nil
}

func (l *PersonLoader) loadFile(ctx context.Context, path string) (PersonReport, error) {
	report := PersonReport{Partitions: 1}
	fp, err := l.opts.fingerprint(path)
	if err != nil {
		return report, err
	}
	st := l.opts.resume(PersonsLoader, path, fp)
	if st.pos.Completed {
		l.logger.Info("person file already loaded", logging.Path(path))
		report.Skipped = st.pos.Committed
		return report, nil
	}

	r, err := source.Open(path, source.Options{HeaderRows: l.opts.HeaderRows, Comma: l.opts.Comma})
	if err != nil {
		return report, err
	}
	defer r.Close()

	src := &personSource{reader: r, name: path, seen: newPIDSet()}
	stats, err := l.run(ctx, path, st, src)
	report.add(stats, src.duplicates)
	return report, err
}

// span is one partition of the data region.
type span struct {
	start, end int
	lineOffset int // physical lines of data before start
}

func (l *PersonLoader) loadPartitioned(ctx context.Context, path string) (PersonReport, error) {
	var report PersonReport

	ra, err := mmap.Open(path)
	if err != nil {
		return report, fmt.Errorf("open %s: %w", path, err)
	}
	data := make([]byte, ra.Len())
	_, err = ra.ReadAt(data, 0)
	ra.Close()
	if err != nil && err != io.EOF {
		return report, fmt.Errorf("read %s: %w", path, err)
	}

	header, body, err := splitHeader(data, l.opts.HeaderRows)
	if err != nil {
		return report, fmt.Errorf("%s: %w", path, err)
	}
	spans := partition(body, l.opts.Workers)
	report.Partitions = len(spans)

	var fp string
	if l.opts.Checkpoints != nil {
		fp = checkpoint.FingerprintBytes(data)
	}

	seen := newPIDSet()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for i, sp := range spans {
		key := fmt.Sprintf("%s#%d/%d", path, i, len(spans))
		g.Go(func() error {
			st := l.opts.resume(PersonsLoader, key, fp)
			if st.pos.Completed {
				mu.Lock()
				report.Skipped += st.pos.Committed
				mu.Unlock()
				return nil
			}
			in := io.MultiReader(bytes.NewReader(header), bytes.NewReader(body[sp.start:sp.end]))
			r, err := source.NewReader(key, in, source.Options{HeaderRows: l.opts.HeaderRows, Comma: l.opts.Comma})
			if err != nil {
				return err
			}
			src := &personSource{reader: r, name: path, lineOffset: sp.lineOffset, seen: seen}
			stats, err := l.run(gctx, key, st, src)
			mu.Lock()
			report.add(stats, src.duplicates)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	return report, err
}

func (l *PersonLoader) run(ctx context.Context, name string, st resumeState, src batch.Source[model.Person]) (batch.Stats, error) {
	session, err := l.store.NewSession(ctx, graphstore.Write)
	if err != nil {
		return batch.Stats{}, err
	}
	defer session.Close(context.WithoutCancel(ctx))

	coord, err := batch.NewCoordinator[model.Person](name, batch.Options{
		BatchSize: l.opts.BatchSize,
		Skip:      st.pos.Committed,
		OnCommit:  l.opts.onCommit(st),
		Retry:     l.opts.Retry,
		Retryable: l.store.Retryable,
		Limiter:   l.opts.Limiter,
		Loader:    PersonsLoader,
		RunID:     l.opts.RunID,
		Reporter:  l.opts.reporter(PersonsLoader),
		Logger:    l.opts.logger(),
	})
	if err != nil {
		return batch.Stats{}, err
	}
	stats, err := coord.Run(ctx, src, personSink{session: session})
	if err != nil {
		return stats, err
	}
	return stats, l.opts.complete(st, stats.Skipped+stats.Records)
}

// splitHeader separates the first n lines from the rest of data.
func splitHeader(data []byte, n int) (header, body []byte, err error) {
	off := 0
	for i := 0; i < n; i++ {
		nl := bytes.IndexByte(data[off:], '\n')
		if nl < 0 {
			if off < len(data) && i == n-1 {
				return data, nil, nil
			}
			return nil, nil, fmt.Errorf("expected %d header rows, found %d", n, i)
		}
		off += nl + 1
	}
	return data[:off], data[off:], nil
}

// partition cuts body into at most n contiguous ranges, each ending on a
// line boundary. Empty ranges are omitted.
func partition(body []byte, n int) []span {
	if len(body) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	size := len(body) / n
	var (
		spans []span
		start int
		lines int
	)
	for i := 1; i <= n && start < len(body); i++ {
		end := len(body)
		if i < n {
			cut := i * size
			if cut < start {
				cut = start
			}
			nl := bytes.IndexByte(body[cut:], '\n')
			if nl < 0 {
				end = len(body)
			} else {
				end = cut + nl + 1
			}
		}
		if end > start {
			spans = append(spans, span{start: start, end: end, lineOffset: lines})
			lines += bytes.Count(body[start:end], []byte{'\n'})
		}
		start = end
	}
	return spans
}
