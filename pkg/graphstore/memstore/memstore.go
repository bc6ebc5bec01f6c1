// Package memstore is an in-memory graphstore.Store with the same merge
// and match semantics as the Neo4j backend. It backs dry runs and tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// ErrTransient marks injected failures that a retry may clear.
var ErrTransient = errors.New("transient store failure")

// FailHook is consulted before every write transaction. A non-nil error
// aborts the transaction without applying anything.
type FailHook func(op string, call int) error

type edgeKey struct {
	src, trg int64
	occur    int
	seq      int64
}

// Store holds the graph in maps guarded by a single lock.
type Store struct {
	mu          sync.RWMutex
	edition     graphstore.Edition
	persons     map[int64]model.Person
	edges       []model.ContactEdge
	edgeIndex   map[edgeKey]int
	constraints map[string]graphstore.Constraint
	indexes     map[string]graphstore.Index
	closed      bool

	hook  FailHook
	calls int
}

var _ graphstore.Store = (*Store)(nil)

// New returns an empty store that accepts constraints of edition.
func New(edition graphstore.Edition) *Store {
	return &Store{
		edition:     edition,
		persons:     make(map[int64]model.Person),
		edgeIndex:   make(map[edgeKey]int),
		constraints: make(map[string]graphstore.Constraint),
		indexes:     make(map[string]graphstore.Index),
	}
}

// SetFailHook installs hook; nil removes it.
func (s *Store) SetFailHook(hook FailHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
	s.calls = 0
}

// Verify implements graphstore.Store.
func (s *Store) Verify(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return graphstore.ConnectionError("memory", graphstore.ErrClosed)
	}
	return nil
}

// NewSession implements graphstore.Store.
func (s *Store) NewSession(ctx context.Context, mode graphstore.AccessMode) (graphstore.Session, error) {
	if err := s.Verify(ctx); err != nil {
		return nil, err
	}
	return &session{store: s, mode: mode}, nil
}

// Retryable implements graphstore.Store.
func (s *Store) Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Close implements graphstore.Store.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Person returns the stored person with pid.
func (s *Store) Person(pid int64) (model.Person, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[pid]
	return p, ok
}

// Contacts returns a copy of every stored edge in creation order.
func (s *Store) Contacts() []model.ContactEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.edges)
}

// IndexNames returns the names of existing indexes, sorted.
func (s *Store) IndexNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.indexes)
}

// ConstraintNames returns the names of existing constraints, sorted.
func (s *Store) ConstraintNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.constraints)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// begin takes the write lock and runs the fail hook. Callers must unlock.
func (s *Store) begin(op string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return graphstore.ErrClosed
	}
	s.calls++
	if s.hook != nil {
		if err := s.hook(op, s.calls); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

type session struct {
	store  *Store
	mode   graphstore.AccessMode
	closed bool
}

func (ss *session) check(write bool) error {
	if ss.closed {
		return graphstore.ErrClosed
	}
	if write && ss.mode == graphstore.Read {
		return fmt.Errorf("write attempted in a read session")
	}
	return nil
}

func (ss *session) EnsureConstraints(ctx context.Context, edition graphstore.Edition) error {
	if err := ss.check(true); err != nil {
		return err
	}
	if edition == graphstore.Enterprise && ss.store.edition != graphstore.Enterprise {
		return graphstore.NewError("EnsureConstraints").Constraint("pid_exist").
			Cause(fmt.Errorf("%w: existence constraints require the enterprise edition", graphstore.ErrSchema)).Err()
	}
	s := ss.store
	if err := s.begin("EnsureConstraints"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for _, c := range graphstore.Constraints(edition) {
		if c.Kind == graphstore.Exists {
			if missing := s.missingProperty(c); missing {
				return graphstore.NewError("EnsureConstraints").Constraint(c.Name).
					Cause(fmt.Errorf("%w: existing data lacks %s", graphstore.ErrSchema, c.Property)).Err()
			}
		}
		s.constraints[c.Name] = c
	}
	return nil
}

// missingProperty reports whether existing data would violate c. Every
// stored record carries all properties, so only an empty string attribute
// can be missing.
func (s *Store) missingProperty(c graphstore.Constraint) bool {
	if c.OnEdge {
		for _, e := range s.edges {
			if (c.Property == "src_act" && e.SourceActivity == "") || (c.Property == "trg_act" && e.TargetActivity == "") {
				return true
			}
		}
		return false
	}
	for _, p := range s.persons {
		if c.Property == "age_group" && p.AgeGroup == "" {
			return true
		}
	}
	return false
}

func (ss *session) EnsureIndexes(ctx context.Context) error {
	if err := ss.check(true); err != nil {
		return err
	}
	s := ss.store
	if err := s.begin("EnsureIndexes"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for _, idx := range graphstore.Indexes {
		s.indexes[idx.Name] = idx
	}
	return nil
}

func (ss *session) Purge(ctx context.Context, batchSize int) (graphstore.PurgeResult, error) {
	if err := ss.check(true); err != nil {
		return graphstore.PurgeResult{}, err
	}
	s := ss.store
	if err := s.begin("Purge"); err != nil {
		return graphstore.PurgeResult{}, err
	}
	defer s.mu.Unlock()

	res := graphstore.PurgeResult{
		Nodes:       int64(len(s.persons)),
		Indexes:     len(s.indexes),
		Constraints: len(s.constraints),
	}
	s.persons = make(map[int64]model.Person)
	s.edges = nil
	s.edgeIndex = make(map[edgeKey]int)
	s.indexes = make(map[string]graphstore.Index)
	s.constraints = make(map[string]graphstore.Constraint)
	return res, nil
}

func (ss *session) UpsertPersons(ctx context.Context, persons []model.Person) (int, error) {
	if err := ss.check(true); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := ss.store
	if err := s.begin("UpsertPersons"); err != nil {
		return 0, graphstore.NewError("UpsertPersons").Persons(len(persons)).Cause(err).Err()
	}
	defer s.mu.Unlock()

	for _, p := range persons {
		s.persons[p.PID] = p
	}
	return len(persons), nil
}

func (ss *session) CreateContacts(ctx context.Context, edges []model.ContactEdge) (graphstore.ContactResult, error) {
	if err := ss.check(true); err != nil {
		return graphstore.ContactResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return graphstore.ContactResult{}, err
	}
	s := ss.store
	if err := s.begin("CreateContacts"); err != nil {
		return graphstore.ContactResult{}, graphstore.NewError("CreateContacts").Contacts(len(edges)).Cause(err).Err()
	}
	defer s.mu.Unlock()

	var res graphstore.ContactResult
	for _, e := range edges {
		_, srcOK := s.persons[e.SourcePID]
		_, trgOK := s.persons[e.TargetPID]
		if !srcOK || !trgOK {
			res.Dropped++
			continue
		}
		key := edgeKey{src: e.SourcePID, trg: e.TargetPID, occur: e.Occur, seq: e.Seq}
		if _, exists := s.edgeIndex[key]; exists {
			res.Merged++
			continue
		}
		s.edgeIndex[key] = len(s.edges)
		s.edges = append(s.edges, e)
		res.Created++
	}
	return res, nil
}

func (ss *session) IncomingContacts(ctx context.Context, core []int64, tick, skip, limit int) ([]model.ContactTriple, error) {
	if err := ss.check(false); err != nil {
		return nil, err
	}
	s := ss.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	inCore := make(map[int64]struct{}, len(core))
	for _, pid := range core {
		inCore[pid] = struct{}{}
	}

	var matched []model.ContactEdge
	for _, e := range s.edges {
		if e.Occur != tick {
			continue
		}
		if _, ok := inCore[e.TargetPID]; ok {
			matched = append(matched, e)
		}
	}
	slices.SortStableFunc(matched, func(a, b model.ContactEdge) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	if skip >= len(matched) {
		return nil, nil
	}
	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]model.ContactTriple, len(matched))
	for i, e := range matched {
		out[i] = model.ContactTriple{Source: s.persons[e.SourcePID], Target: s.persons[e.TargetPID], Edge: e}
	}
	return out, nil
}

func (ss *session) CountPersons(ctx context.Context) (int64, error) {
	if err := ss.check(false); err != nil {
		return 0, err
	}
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	return int64(len(ss.store.persons)), nil
}

func (ss *session) CountContacts(ctx context.Context, occur *int) (int64, error) {
	if err := ss.check(false); err != nil {
		return 0, err
	}
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	if occur == nil {
		return int64(len(ss.store.edges)), nil
	}
	var n int64
	for _, e := range ss.store.edges {
		if e.Occur == *occur {
			n++
		}
	}
	return n, nil
}

func (ss *session) Close(ctx context.Context) error {
	ss.closed = true
	return nil
}
