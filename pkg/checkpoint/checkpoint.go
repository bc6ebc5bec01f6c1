// Package checkpoint records committed batch boundaries per source file so
// an interrupted load can resume where it stopped.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
)

// Position is the resume point for one source.
type Position struct {
	Committed int64
	Completed bool
}

type sourceState struct {
	fingerprint string
	committed   int64
	completed   bool
}

// Tracker replays the journal into per-source positions and appends new
// marks as batches commit. It is safe for concurrent use by partition
// workers.
type Tracker struct {
	journal *Journal
	runID   string
	logger  logging.Logger

	mu    sync.Mutex
	state map[string]*sourceState
}

// Open opens the journal in dir and replays it.
func Open(dir, runID string, logger logging.Logger) (*Tracker, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	j, err := OpenJournal(dir, logger)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		journal: j,
		runID:   runID,
		logger:  logger.With(logging.Component("checkpoint")),
		state:   make(map[string]*sourceState),
	}
	if err := j.Replay(t.apply); err != nil {
		j.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) apply(e *Entry) error {
	if e.OpType == OpReset {
		t.state = make(map[string]*sourceState)
		return nil
	}

	var m Mark
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return fmt.Errorf("decode %s mark: %w", e.OpType, err)
	}
	st := t.state[m.Source]
	if st == nil || st.fingerprint != m.Fingerprint {
		st = &sourceState{fingerprint: m.Fingerprint}
		t.state[m.Source] = st
	}
	switch e.OpType {
	case OpBatchCommitted:
		if m.Committed > st.committed {
			st.committed = m.Committed
		}
	case OpSourceCompleted:
		st.committed = m.Committed
		st.completed = true
	default:
		return fmt.Errorf("unknown checkpoint op %d", e.OpType)
	}
	return nil
}

// Resume returns how far key was loaded. A fingerprint that differs from the
// recorded one means the file changed, so loading starts over.
func (t *Tracker) Resume(key, fingerprint string) Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[key]
	if !ok {
		return Position{}
	}
	if st.fingerprint != fingerprint {
		t.logger.Info("source changed since last checkpoint, starting over",
			logging.Source(key))
		return Position{}
	}
	return Position{Committed: st.committed, Completed: st.completed}
}

// Commit records that the first committed records of key are durable.
func (t *Tracker) Commit(key, fingerprint string, committed int64) error {
	return t.mark(OpBatchCommitted, key, fingerprint, committed)
}

// Complete records that key loaded to the end.
func (t *Tracker) Complete(key, fingerprint string, total int64) error {
	return t.mark(OpSourceCompleted, key, fingerprint, total)
}

func (t *Tracker) mark(op OpType, key, fingerprint string, committed int64) error {
	data, err := json.Marshal(Mark{Source: key, Fingerprint: fingerprint, Committed: committed, RunID: t.runID})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.journal.Append(op, data); err != nil {
		return fmt.Errorf("checkpoint %s: %w", key, err)
	}
	e := &Entry{OpType: op, Data: data}
	return t.apply(e)
}

// Reset discards every recorded position.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.journal.Truncate(); err != nil {
		return err
	}
	data, err := json.Marshal(Mark{RunID: t.runID})
	if err != nil {
		return err
	}
	if _, err := t.journal.Append(OpReset, data); err != nil {
		return err
	}
	t.state = make(map[string]*sourceState)
	t.logger.Info("checkpoints reset", logging.Path(t.journal.Path()))
	return nil
}

// Sources returns the number of tracked sources.
func (t *Tracker) Sources() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state)
}

// Close closes the underlying journal.
func (t *Tracker) Close() error {
	return t.journal.Close()
}
