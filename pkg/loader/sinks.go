package loader

import (
	"context"
	"errors"
	"sync"

	"github.com/dd0wney/cluso-contactgraph/pkg/batch"
	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
	"github.com/dd0wney/cluso-contactgraph/pkg/source"
)

// personSink upserts each batch in one write transaction.
type personSink struct {
	session graphstore.Session
}

func (s personSink) Flush(ctx context.Context, records []model.Person) (batch.FlushResult, error) {
	n, err := s.session.UpsertPersons(ctx, records)
	if err != nil {
		return batch.FlushResult{}, err
	}
	return batch.FlushResult{Applied: n}, nil
}

// contactSink creates each batch of edges in one write transaction.
type contactSink struct {
	session graphstore.Session
}

func (s contactSink) Flush(ctx context.Context, records []model.ContactEdge) (batch.FlushResult, error) {
	res, err := s.session.CreateContacts(ctx, records)
	if err != nil {
		return batch.FlushResult{}, err
	}
	return batch.FlushResult{Applied: res.Created, Merged: res.Merged, Dropped: res.Dropped}, nil
}

// rowError positions a parse failure at the reader's current line.
func rowError(err error, name string, line int) error {
	var pe *model.ParseError
	if errors.As(err, &pe) {
		return pe.At(name, line)
	}
	return err
}

// personSource parses person rows and counts pids seen more than once.
type personSource struct {
	reader     *source.Reader
	name       string
	lineOffset int
	seen       *pidSet
	duplicates int
}

func (s *personSource) Next() (model.Person, error) {
	rec, err := s.reader.Next()
	if err != nil {
		return model.Person{}, err
	}
	p, err := model.ParsePerson(rec)
	if err != nil {
		return model.Person{}, rowError(err, s.name, s.reader.Line()+s.lineOffset)
	}
	if !s.seen.add(p.PID) {
		s.duplicates++
	}
	return p, nil
}

// contactSource parses contact rows; seq is the row's ordinal in the file.
type contactSource struct {
	reader *source.Reader
	occur  int
}

func (s *contactSource) Next() (model.ContactEdge, error) {
	rec, err := s.reader.Next()
	if err != nil {
		return model.ContactEdge{}, err
	}
	e, err := model.ParseContact(rec, s.occur, s.reader.DataRow())
	if err != nil {
		return model.ContactEdge{}, rowError(err, s.reader.Name(), s.reader.Line())
	}
	return e, nil
}

// pidSet is shared by the partitions of one person file.
type pidSet struct {
	mu   sync.Mutex
	pids map[int64]struct{}
}

func newPIDSet() *pidSet {
	return &pidSet{pids: make(map[int64]struct{})}
}

// add reports whether pid was new.
func (s *pidSet) add(pid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pids[pid]; ok {
		return false
	}
	s.pids[pid] = struct{}{}
	return true
}
