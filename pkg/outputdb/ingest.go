package outputdb

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-contactgraph/pkg/batch"
	"github.com/dd0wney/cluso-contactgraph/pkg/checkpoint"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
	"github.com/dd0wney/cluso-contactgraph/pkg/retry"
	"github.com/dd0wney/cluso-contactgraph/pkg/source"
	"github.com/dd0wney/cluso-contactgraph/pkg/telemetry"
)

// IngestLoader labels ingest progress and flush metrics.
const IngestLoader = "output"

// ErrRowErrors is returned when FailOnRowErrors is set and rows failed.
var ErrRowErrors = errors.New("output rows failed to load")

// IngestOptions configures an Ingestor.
type IngestOptions struct {
	CommitEvery     int
	HeaderRows      int // defaults to 1
	FailOnRowErrors bool

	Retry       retry.Policy
	Checkpoints *checkpoint.Tracker

	RunID    string
	Logger   logging.Logger
	Metrics  *metrics.Registry
	Reporter telemetry.Reporter
}

// IngestReport summarizes one output file load.
type IngestReport struct {
	File     string
	Rows     int64
	Inserted int64
	Failed   int64
	Commits  int
	Skipped  int64
	Elapsed  time.Duration
}

// OK reports whether every row was inserted.
func (r IngestReport) OK() bool { return r.Failed == 0 }

// Ingestor loads simulation output files into a Store.
type Ingestor struct {
	store  Store
	opts   IngestOptions
	logger logging.Logger
}

// NewIngestor validates opts and returns an ingestor writing to store.
func NewIngestor(store Store, opts IngestOptions) (*Ingestor, error) {
	if opts.CommitEvery < 1 {
		return nil, fmt.Errorf("commit interval must be at least 1: got %d", opts.CommitEvery)
	}
	if opts.HeaderRows == 0 {
		opts.HeaderRows = 1
	}
	if err := source.ValidateHeaderRows(opts.HeaderRows); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Ingestor{store: store, opts: opts, logger: logger.With(logging.Component("ingestor"))}, nil
}

// outputRecord carries a parsed row or the reason it could not be parsed.
type outputRecord struct {
	row  model.OutputRow
	line int
	err  error
}

type outputSource struct {
	reader *source.Reader
	logger logging.Logger
}

func (s *outputSource) Next() (outputRecord, error) {
	rec, err := s.reader.Next()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			s.logger.Warn("unreadable output row", logging.Line(perr.Line), logging.Error(err))
			return outputRecord{line: perr.Line, err: err}, nil
		}
		return outputRecord{}, err
	}
	line := s.reader.Line()
	row, err := model.ParseOutput(rec)
	if err != nil {
		var pe *model.ParseError
		if errors.As(err, &pe) {
			err = pe.At(s.reader.Name(), line)
		}
		s.logger.Warn("malformed output row", logging.Line(line), logging.Error(err))
		return outputRecord{line: line, err: err}, nil
	}
	return outputRecord{row: row, line: line}, nil
}

// outputSink inserts each row of a batch individually and commits once.
type outputSink struct {
	store   Store
	logger  logging.Logger
	metrics *metrics.Registry
	commits int
}

func (s *outputSink) Flush(ctx context.Context, records []outputRecord) (batch.FlushResult, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return batch.FlushResult{}, err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var res batch.FlushResult
	for _, r := range records {
		if r.err != nil {
			res.Failed++
			continue
		}
		if err := tx.Insert(ctx, r.row); err != nil {
			if ctx.Err() != nil {
				return batch.FlushResult{}, ctx.Err()
			}
			s.logger.Warn("output row rejected",
				logging.Line(r.line), logging.PID(r.row.PID), logging.Error(err))
			res.Failed++
			continue
		}
		res.Applied++
	}
	if err := tx.Commit(ctx); err != nil {
		return batch.FlushResult{}, fmt.Errorf("commit: %w", err)
	}

	s.commits++
	if s.metrics != nil {
		s.metrics.RecordCommit()
		for i := 0; i < res.Applied; i++ {
			s.metrics.RecordIngestRow(metrics.StatusSuccess)
		}
		for i := 0; i < res.Failed; i++ {
			s.metrics.RecordIngestRow(metrics.StatusError)
		}
	}
	return res, nil
}

// Ingest creates the table if needed and loads every data row of path,
// committing every CommitEvery rows. Rows that fail to parse or insert
// are logged and counted; loading continues past them.
func (in *Ingestor) Ingest(ctx context.Context, path string) (IngestReport, error) {
	start := time.Now()
	report := IngestReport{File: path}

	if err := in.store.CreateTable(ctx); err != nil {
		return report, err
	}

	var (
		fp  string
		err error
	)
	if in.opts.Checkpoints != nil {
		if fp, err = checkpoint.Fingerprint(path); err != nil {
			return report, err
		}
	}
	var pos checkpoint.Position
	if in.opts.Checkpoints != nil {
		pos = in.opts.Checkpoints.Resume(path, fp)
		if pos.Committed > 0 && in.opts.Metrics != nil {
			in.opts.Metrics.RecordResume(IngestLoader, pos.Completed, pos.Committed)
		}
	}
	if pos.Completed {
		in.logger.Info("output file already ingested", logging.Path(path))
		report.Skipped = pos.Committed
		return report, nil
	}

	r, err := source.Open(path, source.Options{HeaderRows: in.opts.HeaderRows})
	if err != nil {
		return report, err
	}
	defer r.Close()

	var onCommit func(int64) error
	if in.opts.Checkpoints != nil {
		onCommit = func(committed int64) error {
			return in.opts.Checkpoints.Commit(path, fp, committed)
		}
	}

	var reporters []telemetry.Reporter
	reporters = append(reporters, telemetry.LogReporter{Logger: in.logger, Every: 10})
	if in.opts.Metrics != nil {
		reporters = append(reporters, telemetry.MetricsReporter{Registry: in.opts.Metrics})
	}
	reporters = append(reporters, in.opts.Reporter)

	coord, err := batch.NewCoordinator[outputRecord](path, batch.Options{
		BatchSize: in.opts.CommitEvery,
		Skip:      pos.Committed,
		OnCommit:  onCommit,
		Retry:     in.opts.Retry,
		Retryable: in.store.Retryable,
		Loader:    IngestLoader,
		RunID:     in.opts.RunID,
		Reporter:  telemetry.Combine(reporters...),
		Logger:    in.logger,
	})
	if err != nil {
		return report, err
	}

	sink := &outputSink{store: in.store, logger: in.logger, metrics: in.opts.Metrics}
	stats, err := coord.Run(ctx, &outputSource{reader: r, logger: in.logger}, sink)
	report.Rows = stats.Records
	report.Inserted = stats.Applied
	report.Failed = stats.Failed
	report.Commits = sink.commits
	report.Skipped = stats.Skipped
	report.Elapsed = time.Since(start)
	if err != nil {
		return report, err
	}
	if in.opts.Checkpoints != nil {
		if err := in.opts.Checkpoints.Complete(path, fp, stats.Skipped+stats.Records); err != nil {
			return report, err
		}
	}

	in.logger.Info("output ingested",
		logging.Path(path),
		logging.Rows(report.Rows),
		logging.Int64("inserted", report.Inserted),
		logging.Int64("failed", report.Failed),
		logging.Int("commits", report.Commits),
		logging.Latency(report.Elapsed))

	if !report.OK() && in.opts.FailOnRowErrors {
		return report, fmt.Errorf("%s: %w: %d of %d", path, ErrRowErrors, report.Failed, report.Rows)
	}
	return report, nil
}
