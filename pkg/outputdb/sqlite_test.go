package outputdb

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-contactgraph/pkg/checkpoint"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

const outputCSV = `tick,pid,exit_state,contact_pid,lid
0,1,E,-1,-1
1,2,I,1,7
1,3,E,2,-1
bad,4,E,-1,-1
2,5,E,-1,3
`

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "output.db"), DefaultTable, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeOutput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestIngest_SQLite(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	reg := metrics.NewRegistry()

	in, err := NewIngestor(store, IngestOptions{CommitEvery: 2, Metrics: reg})
	require.NoError(t, err)

	rep, err := in.Ingest(ctx, writeOutput(t, outputCSV))
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Rows)
	assert.Equal(t, int64(4), rep.Inserted)
	assert.Equal(t, int64(1), rep.Failed)
	assert.Equal(t, 3, rep.Commits)
	assert.False(t, rep.OK())

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.Equal(t, float64(3), counterValue(t, reg.IngestCommitsTotal))
	assert.Equal(t, float64(1), counterValue(t, reg.IngestRowsTotal.WithLabelValues(metrics.StatusError)))
	assert.Equal(t, float64(4), counterValue(t, reg.IngestRowsTotal.WithLabelValues(metrics.StatusSuccess)))
}

func TestIngest_SentinelsBecomeNull(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	in, err := NewIngestor(store, IngestOptions{CommitEvery: 100})
	require.NoError(t, err)
	_, err = in.Ingest(ctx, writeOutput(t, outputCSV))
	require.NoError(t, err)

	var rows []model.OutputRow
	require.NoError(t, store.Walk(ctx, func(r model.OutputRow) error {
		rows = append(rows, r)
		return nil
	}))
	require.Len(t, rows, 4)
	assert.Nil(t, rows[0].ContactPID)
	assert.Nil(t, rows[0].LID)
	require.NotNil(t, rows[1].ContactPID)
	assert.Equal(t, int64(1), *rows[1].ContactPID)
	assert.Equal(t, int64(7), *rows[1].LID)

	var buf bytes.Buffer
	n, err := Export(ctx, store, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	want := strings.Replace(outputCSV, "bad,4,E,-1,-1\n", "", 1)
	assert.Equal(t, want, buf.String())
}

func TestIngest_FailOnRowErrors(t *testing.T) {
	store := openSQLite(t)
	in, err := NewIngestor(store, IngestOptions{CommitEvery: 10, FailOnRowErrors: true})
	require.NoError(t, err)

	rep, err := in.Ingest(context.Background(), writeOutput(t, outputCSV))
	assert.ErrorIs(t, err, ErrRowErrors)
	assert.Equal(t, int64(4), rep.Inserted)
}

func TestIngest_ResumeSkipsIngestedFile(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	tracker, err := checkpoint.Open(t.TempDir(), "run", nil)
	require.NoError(t, err)
	defer tracker.Close()

	in, err := NewIngestor(store, IngestOptions{CommitEvery: 2, Checkpoints: tracker})
	require.NoError(t, err)
	path := writeOutput(t, outputCSV)

	_, err = in.Ingest(ctx, path)
	require.NoError(t, err)
	rep, err := in.Ingest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Skipped)
	assert.Zero(t, rep.Rows)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestRebuildIndexes_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	require.NoError(t, store.CreateTable(ctx))

	for i := 0; i < 2; i++ {
		require.NoError(t, store.RebuildIndexes(ctx))
	}
	names, err := store.Indexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{IndexPID, IndexTick}, names)
}

func TestPIDsByExitState(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	in, err := NewIngestor(store, IngestOptions{CommitEvery: 3})
	require.NoError(t, err)
	_, err = in.Ingest(ctx, writeOutput(t, outputCSV+"1,9,E,-1,-1\n"))
	require.NoError(t, err)

	got, err := store.PIDsByExitState(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, map[int][]int64{0: {1}, 1: {3, 9}, 2: {5}}, got)

	dir := t.TempDir()
	path, err := WritePIDsByExitState(ctx, store, "E", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pids_by_E.json"), path)

	back, err := ReadPIDsByExitState(path)
	require.NoError(t, err)
	assert.Equal(t, got, back)

	none, err := store.PIDsByExitState(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"epihiper_output", true},
		{"_run2", true},
		{"2run", false},
		{"out; DROP TABLE x", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTable(tt.name)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrTableName)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	assert.ErrorIs(t, err, ErrDriver)
}

func TestNewIngestor_RejectsBadOptions(t *testing.T) {
	_, err := NewIngestor(nil, IngestOptions{CommitEvery: 0})
	assert.Error(t, err)
	_, err = NewIngestor(nil, IngestOptions{CommitEvery: 1, HeaderRows: 3})
	assert.Error(t, err)
}
