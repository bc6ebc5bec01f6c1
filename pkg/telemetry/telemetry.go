// Package telemetry fans batch progress out to logs, metrics and an
// optional pub socket.
package telemetry

import (
	"time"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
)

// Progress is emitted after every flush attempt and once at the end of a
// source.
type Progress struct {
	RunID     string        `json:"run_id,omitempty"`
	Loader    string        `json:"loader"`
	Source    string        `json:"source"`
	Flush     int           `json:"flush"`
	Status    string        `json:"status"`
	Batch     int           `json:"batch"`
	Committed int64         `json:"committed"`
	Applied   int           `json:"applied"`
	Dropped   int           `json:"dropped"`
	Failed    int           `json:"failed"`
	Retries   int           `json:"retries"`
	FlushTime time.Duration `json:"flush_ns"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Done      bool          `json:"done,omitempty"`
	Time      time.Time     `json:"time"`
}

// Reporter receives progress events. Implementations must not block the
// caller for long.
type Reporter interface {
	Report(p Progress)
}

// Nop discards progress.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(Progress) {}

// Multi forwards every event to each reporter in order.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(p Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}

// Combine returns a single Reporter over the non-nil reporters given.
func Combine(reporters ...Reporter) Reporter {
	var out Multi
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	default:
		return out
	}
}

// LogReporter writes one log line every Every successful flushes, and
// always for failures and completion.
type LogReporter struct {
	Logger logging.Logger
	Every  int
}

// Report implements Reporter.
func (l LogReporter) Report(p Progress) {
	if l.Logger == nil {
		return
	}
	fields := []logging.Field{
		logging.String("loader", p.Loader),
		logging.Source(p.Source),
		logging.Int("flush", p.Flush),
		logging.Int64("committed", p.Committed),
		logging.Duration("elapsed", p.Elapsed),
	}
	if p.Dropped > 0 {
		fields = append(fields, logging.Int("dropped", p.Dropped))
	}
	if p.Retries > 0 {
		fields = append(fields, logging.Int("retries", p.Retries))
	}

	switch {
	case p.Status == metrics.StatusError:
		l.Logger.Warn("flush failed", fields...)
	case p.Done:
		l.Logger.Info("source loaded", fields...)
	case l.Every <= 1 || p.Flush%l.Every == 0:
		l.Logger.Info("flush committed", fields...)
	default:
		l.Logger.Debug("flush committed", fields...)
	}
}

// MetricsReporter records flush outcomes in a metrics registry.
type MetricsReporter struct {
	Registry *metrics.Registry
}

// Report implements Reporter.
func (m MetricsReporter) Report(p Progress) {
	if m.Registry == nil || p.Done {
		return
	}
	m.Registry.RecordFlush(p.Loader, p.Status, p.Batch, p.FlushTime)
	m.Registry.RecordDropped(p.Loader, p.Dropped)
	for i := 0; i < p.Retries; i++ {
		m.Registry.RecordRetry(p.Loader)
	}
}
