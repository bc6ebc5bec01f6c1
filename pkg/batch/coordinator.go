// Package batch streams records from a source into a sink in bounded,
// individually committed batches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
	"github.com/dd0wney/cluso-contactgraph/pkg/retry"
	"github.com/dd0wney/cluso-contactgraph/pkg/telemetry"
)

// ErrBatchSize is returned for a batch size below 1.
var ErrBatchSize = errors.New("batch size must be at least 1")

// Source yields records one at a time and returns io.EOF when exhausted.
type Source[T any] interface {
	Next() (T, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func() (T, error)

// Next implements Source.
func (f SourceFunc[T]) Next() (T, error) { return f() }

// SliceSource returns a Source over records.
func SliceSource[T any](records []T) Source[T] {
	i := 0
	return SourceFunc[T](func() (T, error) {
		var zero T
		if i >= len(records) {
			return zero, io.EOF
		}
		i++
		return records[i-1], nil
	})
}

// FlushResult is what a sink reports for one committed batch.
type FlushResult struct {
	Applied int // records written
	Merged  int // records that matched one already in the store
	Dropped int // records skipped by the store, e.g. edges with a missing endpoint
	Failed  int // records rejected individually while the batch still committed
}

// Sink commits one batch per call, in a single store transaction. A sink
// must not retain the batch slice after Flush returns.
type Sink[T any] interface {
	Flush(ctx context.Context, batch []T) (FlushResult, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, batch []T) (FlushResult, error)

// Flush implements Sink.
func (f SinkFunc[T]) Flush(ctx context.Context, batch []T) (FlushResult, error) {
	return f(ctx, batch)
}

// Options configures a Coordinator.
type Options struct {
	BatchSize int

	// Skip discards that many leading records, which an earlier run
	// already committed.
	Skip int64
	// OnCommit runs after every successful flush with the total count of
	// durable records, skipped ones included.
	OnCommit func(committed int64) error

	Retry     retry.Policy
	Retryable retry.Classifier
	Limiter   *rate.Limiter

	Loader   string // metrics and log label
	RunID    string
	Reporter telemetry.Reporter
	Logger   logging.Logger
}

// Stats summarizes a Run.
type Stats struct {
	Records int64 // records flushed by this run
	Skipped int64
	Flushes int
	Applied int64
	Merged  int64
	Dropped int64
	Failed  int64
	Retries int
	Elapsed time.Duration
}

// Coordinator drives a Source into a Sink.
type Coordinator[T any] struct {
	name     string
	opts     Options
	executor *retry.Executor
	logger   logging.Logger
	reporter telemetry.Reporter
}

// NewCoordinator validates opts and builds a coordinator for the source
// called name.
func NewCoordinator[T any](name string, opts Options) (*Coordinator[T], error) {
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrBatchSize, opts.BatchSize)
	}
	if opts.Skip < 0 {
		return nil, fmt.Errorf("skip must not be negative: got %d", opts.Skip)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.NoRetry()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.Component("batch"), logging.Source(name))

	reporter := opts.Reporter
	if reporter == nil {
		reporter = telemetry.Nop{}
	}

	retryOpts := []retry.Option{retry.WithLogger(logger)}
	if opts.Retryable != nil {
		retryOpts = append(retryOpts, retry.WithClassifier(opts.Retryable))
	}

	return &Coordinator[T]{
		name:     name,
		opts:     opts,
		executor: retry.NewExecutor(opts.Retry, retryOpts...),
		logger:   logger,
		reporter: reporter,
	}, nil
}

// Run reads src to the end, flushing every BatchSize records and once more
// for a trailing partial batch. It stops at the first source error, flush
// failure that survives retries, or context cancellation.
func (c *Coordinator[T]) Run(ctx context.Context, src Source[T], sink Sink[T]) (Stats, error) {
	start := time.Now()
	var stats Stats

	for stats.Skipped < c.opts.Skip {
		if err := ctx.Err(); err != nil {
			return c.finish(stats, start), fmt.Errorf("%s: %w", c.name, err)
		}
		if _, err := src.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return c.finish(stats, start), nil
			}
			return c.finish(stats, start), err
		}
		stats.Skipped++
	}
	if stats.Skipped > 0 {
		c.logger.Info("resuming after committed records", logging.Int64("skipped", stats.Skipped))
	}

	buf := make([]T, 0, c.opts.BatchSize)
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(stats, start), fmt.Errorf("%s: %w", c.name, err)
		}

		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.finish(stats, start), err
		}

		buf = append(buf, rec)
		if len(buf) == c.opts.BatchSize {
			if err := c.flush(ctx, sink, buf, &stats, start); err != nil {
				return c.finish(stats, start), err
			}
			buf = buf[:0]
		}
	}

	if len(buf) > 0 {
		if err := c.flush(ctx, sink, buf, &stats, start); err != nil {
			return c.finish(stats, start), err
		}
	}

	stats = c.finish(stats, start)
	c.reporter.Report(telemetry.Progress{
		RunID:     c.opts.RunID,
		Loader:    c.opts.Loader,
		Source:    c.name,
		Flush:     stats.Flushes,
		Status:    metrics.StatusSuccess,
		Committed: stats.Skipped + stats.Records,
		Applied:   int(stats.Applied),
		Dropped:   int(stats.Dropped),
		Failed:    int(stats.Failed),
		Retries:   stats.Retries,
		Elapsed:   stats.Elapsed,
		Done:      true,
		Time:      time.Now(),
	})
	return stats, nil
}

func (c *Coordinator[T]) finish(stats Stats, start time.Time) Stats {
	stats.Elapsed = time.Since(start)
	return stats
}

func (c *Coordinator[T]) flush(ctx context.Context, sink Sink[T], records []T, stats *Stats, start time.Time) error {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: throttle: %w", c.name, err)
		}
	}

	flushNo := stats.Flushes + 1
	flushStart := time.Now()
	var res FlushResult
	retries, err := c.executor.Execute(ctx, func(ctx context.Context) error {
		var ferr error
		res, ferr = sink.Flush(ctx, records)
		return ferr
	})
	stats.Retries += retries

	progress := telemetry.Progress{
		RunID:     c.opts.RunID,
		Loader:    c.opts.Loader,
		Source:    c.name,
		Flush:     flushNo,
		Batch:     len(records),
		Retries:   retries,
		FlushTime: time.Since(flushStart),
		Elapsed:   time.Since(start),
		Time:      time.Now(),
	}

	if err != nil {
		progress.Status = metrics.StatusError
		progress.Committed = stats.Skipped + stats.Records
		c.reporter.Report(progress)
		first := stats.Skipped + stats.Records
		return fmt.Errorf("%s: flush %d (records %d-%d): %w",
			c.name, flushNo, first, first+int64(len(records))-1, err)
	}

	stats.Flushes = flushNo
	stats.Records += int64(len(records))
	stats.Applied += int64(res.Applied)
	stats.Merged += int64(res.Merged)
	stats.Dropped += int64(res.Dropped)
	stats.Failed += int64(res.Failed)

	committed := stats.Skipped + stats.Records
	if c.opts.OnCommit != nil {
		if err := c.opts.OnCommit(committed); err != nil {
			return fmt.Errorf("%s: record commit at %d: %w", c.name, committed, err)
		}
	}

	progress.Status = metrics.StatusSuccess
	progress.Committed = committed
	progress.Applied = res.Applied
	progress.Dropped = res.Dropped
	progress.Failed = res.Failed
	c.reporter.Report(progress)
	return nil
}
