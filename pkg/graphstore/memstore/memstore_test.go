package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

func person(pid int64, age int) model.Person {
	g, _ := model.AgeGroupFor(age)
	return model.Person{PID: pid, HID: pid / 2, Age: age, AgeGroup: g, Gender: 1}
}

func contact(src, trg int64, occur int, seq int64) model.ContactEdge {
	return model.ContactEdge{SourcePID: src, TargetPID: trg, SourceActivity: "1:1", TargetActivity: "1:2", Duration: 60, Occur: occur, Seq: seq}
}

func writeSession(t *testing.T, s *Store) graphstore.Session {
	t.Helper()
	ss, err := s.NewSession(context.Background(), graphstore.Write)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close(context.Background()) })
	return ss
}

func TestUpsertPersons_MergeOnPID(t *testing.T) {
	ctx := context.Background()
	s := New(graphstore.Community)
	ss := writeSession(t, s)

	n, err := ss.UpsertPersons(ctx, []model.Person{person(1, 3), person(2, 30), person(1, 70)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := ss.CountPersons(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	p, ok := s.Person(1)
	require.True(t, ok)
	assert.Equal(t, 70, p.Age, "last row wins")
	assert.Equal(t, model.AgeGroupGolden, p.AgeGroup)
}

func TestCreateContacts_DropsMissingEndpoints(t *testing.T) {
	ctx := context.Background()
	s := New(graphstore.Community)
	ss := writeSession(t, s)

	_, err := ss.UpsertPersons(ctx, []model.Person{person(5, 20), person(6, 20)})
	require.NoError(t, err)

	res, err := ss.CreateContacts(ctx, []model.ContactEdge{
		contact(7, 5, model.InitialOccur, 0),
		contact(6, 5, model.InitialOccur, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, graphstore.ContactResult{Created: 1, Dropped: 1}, res)

	// replaying the same rows does not duplicate edges
	res, err = ss.CreateContacts(ctx, []model.ContactEdge{contact(6, 5, model.InitialOccur, 1)})
	require.NoError(t, err)
	assert.Equal(t, graphstore.ContactResult{Merged: 1}, res)
	assert.Len(t, s.Contacts(), 1)

	// the same pair at another tick is a parallel edge
	_, err = ss.CreateContacts(ctx, []model.ContactEdge{contact(6, 5, 0, 1)})
	require.NoError(t, err)
	all, _ := ss.CountContacts(ctx, nil)
	assert.Equal(t, int64(2), all)
	initial := model.InitialOccur
	atInitial, _ := ss.CountContacts(ctx, &initial)
	assert.Equal(t, int64(1), atInitial)
}

func TestFailHook_AbortsWholeBatch(t *testing.T) {
	ctx := context.Background()
	s := New(graphstore.Community)
	ss := writeSession(t, s)

	s.SetFailHook(func(op string, call int) error {
		if op == "UpsertPersons" {
			return ErrTransient
		}
		return nil
	})

	_, err := ss.UpsertPersons(ctx, []model.Person{person(1, 1), person(2, 2)})
	require.Error(t, err)
	assert.True(t, s.Retryable(err))
	var se *graphstore.StoreError
	assert.True(t, errors.As(err, &se))

	count, _ := ss.CountPersons(ctx)
	assert.Zero(t, count, "failed transaction applies nothing")

	s.SetFailHook(nil)
	_, err = ss.UpsertPersons(ctx, []model.Person{person(1, 1)})
	assert.NoError(t, err)
}

func TestIncomingContacts_Pagination(t *testing.T) {
	ctx := context.Background()
	s := New(graphstore.Community)
	ss := writeSession(t, s)

	_, err := ss.UpsertPersons(ctx, []model.Person{person(1, 10), person(2, 20), person(3, 30), person(4, 40)})
	require.NoError(t, err)
	_, err = ss.CreateContacts(ctx, []model.ContactEdge{
		contact(2, 1, 0, 4),
		contact(3, 1, 0, 1),
		contact(4, 1, 1, 2),
		contact(4, 2, 0, 3),
		contact(1, 3, 0, 0),
	})
	require.NoError(t, err)

	page, err := ss.IncomingContacts(ctx, []int64{1, 2}, 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].Edge.Seq)
	assert.Equal(t, int64(3), page[0].Source.PID)
	assert.Equal(t, int64(3), page[1].Edge.Seq)

	page, err = ss.IncomingContacts(ctx, []int64{1, 2}, 0, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(4), page[0].Edge.Seq)
	assert.Equal(t, 20, page[0].Source.Age)

	page, err = ss.IncomingContacts(ctx, []int64{1, 2}, 0, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSchemaAndPurge(t *testing.T) {
	ctx := context.Background()
	s := New(graphstore.Community)
	ss := writeSession(t, s)

	require.NoError(t, ss.EnsureConstraints(ctx, graphstore.Community))
	assert.Equal(t, []string{"pid_unique"}, s.ConstraintNames())

	err := ss.EnsureConstraints(ctx, graphstore.Enterprise)
	assert.ErrorIs(t, err, graphstore.ErrSchema)

	require.NoError(t, ss.EnsureIndexes(ctx))
	require.NoError(t, ss.EnsureIndexes(ctx))
	assert.Len(t, s.IndexNames(), len(graphstore.Indexes))
	assert.NotContains(t, s.IndexNames(), "idx_pid")

	_, err = ss.UpsertPersons(ctx, []model.Person{person(1, 1)})
	require.NoError(t, err)

	res, err := ss.Purge(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Nodes)
	assert.Equal(t, len(graphstore.Indexes), res.Indexes)
	assert.Equal(t, 1, res.Constraints)
	assert.Empty(t, s.IndexNames())
	assert.Empty(t, s.ConstraintNames())
}

func TestEnterpriseConstraints(t *testing.T) {
	s := New(graphstore.Enterprise)
	ss := writeSession(t, s)
	require.NoError(t, ss.EnsureConstraints(context.Background(), graphstore.Enterprise))
	assert.Len(t, s.ConstraintNames(), 9)
}

func TestReadSessionRejectsWrites(t *testing.T) {
	s := New(graphstore.Community)
	ss, err := s.NewSession(context.Background(), graphstore.Read)
	require.NoError(t, err)
	_, err = ss.UpsertPersons(context.Background(), []model.Person{person(1, 1)})
	assert.Error(t, err)

	ss.Close(context.Background())
	_, err = ss.CountPersons(context.Background())
	assert.ErrorIs(t, err, graphstore.ErrClosed)

	s.Close(context.Background())
	_, err = s.NewSession(context.Background(), graphstore.Read)
	assert.True(t, graphstore.IsConnection(err))
}

// The number of edges created equals the number of rows whose endpoints
// are both loaded persons; every other row is dropped.
func TestCreateContacts_EdgeCountProperty(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("created = |{e : src in P and dst in P}|", prop.ForAll(
		func(pids []int64, pairs []int64) bool {
			ctx := context.Background()
			s := New(graphstore.Community)
			ss, _ := s.NewSession(ctx, graphstore.Write)

			loaded := make(map[int64]bool)
			var persons []model.Person
			for _, pid := range pids {
				persons = append(persons, person(pid, 30))
				loaded[pid] = true
			}
			if _, err := ss.UpsertPersons(ctx, persons); err != nil {
				return false
			}

			var edges []model.ContactEdge
			want := 0
			for i := 0; i+1 < len(pairs); i += 2 {
				e := contact(pairs[i], pairs[i+1], model.InitialOccur, int64(i/2))
				edges = append(edges, e)
				if loaded[e.SourcePID] && loaded[e.TargetPID] {
					want++
				}
			}
			res, err := ss.CreateContacts(ctx, edges)
			if err != nil {
				return false
			}
			return res.Created == want && res.Dropped == len(edges)-want && len(s.Contacts()) == want
		},
		gen.SliceOf(gen.Int64Range(0, 30)),
		gen.SliceOf(gen.Int64Range(0, 40)),
	))

	properties.TestingRun(t)
}
