// Package loader streams person and contact files into a graph store.
package loader

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/dd0wney/cluso-contactgraph/pkg/checkpoint"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
	"github.com/dd0wney/cluso-contactgraph/pkg/retry"
	"github.com/dd0wney/cluso-contactgraph/pkg/source"
	"github.com/dd0wney/cluso-contactgraph/pkg/telemetry"
)

// Loader labels used in metrics and progress.
const (
	PersonsLoader  = "persons"
	ContactsLoader = "contacts"
)

// Options are shared by both loaders.
type Options struct {
	BatchSize  int
	HeaderRows int
	Comma      rune

	// Workers > 1 enables partitioned person loading.
	Workers int

	Retry   retry.Policy
	Limiter *rate.Limiter

	// Checkpoints, when set, makes loads resumable.
	Checkpoints *checkpoint.Tracker

	RunID    string
	Logger   logging.Logger
	Metrics  *metrics.Registry
	Reporter telemetry.Reporter
}

func (o Options) validate() error {
	var errs []error
	if o.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1: got %d", o.BatchSize))
	}
	if err := source.ValidateHeaderRows(o.HeaderRows); err != nil {
		errs = append(errs, err)
	}
	if o.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative: got %d", o.Workers))
	}
	return errors.Join(errs...)
}

func (o Options) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NewNopLogger()
	}
	return o.Logger
}

func (o Options) reporter(loader string) telemetry.Reporter {
	var metricsReporter telemetry.Reporter
	if o.Metrics != nil {
		metricsReporter = telemetry.MetricsReporter{Registry: o.Metrics}
	}
	return telemetry.Combine(
		telemetry.LogReporter{Logger: o.logger().With(logging.Component(loader)), Every: 10},
		metricsReporter,
		o.Reporter,
	)
}

// resumeState looks up key in the checkpoint journal.
type resumeState struct {
	key         string
	fingerprint string
	pos         checkpoint.Position
}

func (o Options) resume(loader, key, fingerprint string) resumeState {
	st := resumeState{key: key, fingerprint: fingerprint}
	if o.Checkpoints == nil {
		return st
	}
	st.pos = o.Checkpoints.Resume(key, fingerprint)
	if o.Metrics != nil && (st.pos.Committed > 0 || st.pos.Completed) {
		o.Metrics.RecordResume(loader, st.pos.Completed, st.pos.Committed)
	}
	return st
}

func (o Options) onCommit(st resumeState) func(int64) error {
	if o.Checkpoints == nil {
		return nil
	}
	return func(committed int64) error {
		return o.Checkpoints.Commit(st.key, st.fingerprint, committed)
	}
}

func (o Options) complete(st resumeState, total int64) error {
	if o.Checkpoints == nil {
		return nil
	}
	return o.Checkpoints.Complete(st.key, st.fingerprint, total)
}

func (o Options) fingerprint(path string) (string, error) {
	if o.Checkpoints == nil {
		return "", nil
	}
	return checkpoint.Fingerprint(path)
}
