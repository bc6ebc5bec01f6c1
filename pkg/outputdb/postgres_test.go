package outputdb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := NewPostgres(context.Background(), mockPool, DefaultTable, nil)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgres_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgres(context.Background(), mockPool, DefaultTable, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgres_IngestRollsBackFailedRowToSavepoint(t *testing.T) {
	store, mockPool := newMockStore(t)
	insert := regexp.QuoteMeta(store.insertSQL())

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS epihiper_output").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mockPool.ExpectBegin()

	mockPool.ExpectExec(regexp.QuoteMeta(savepoint)).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mockPool.ExpectExec(insert).
		WithArgs(0, int64(1), "E", nil, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(regexp.QuoteMeta(releaseSavepoint)).WillReturnResult(pgxmock.NewResult("RELEASE", 0))

	mockPool.ExpectExec(regexp.QuoteMeta(savepoint)).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mockPool.ExpectExec(insert).
		WithArgs(1, int64(2), "I", int64(1), int64(7)).
		WillReturnError(&pgconn.PgError{Code: "23514", Message: "check violation"})
	mockPool.ExpectExec(regexp.QuoteMeta(rollbackSavepoint)).WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))

	mockPool.ExpectCommit()

	in, err := NewIngestor(store, IngestOptions{CommitEvery: 10})
	require.NoError(t, err)
	rep, err := in.Ingest(context.Background(), writeOutput(t, "tick,pid,exit_state,contact_pid,lid\n0,1,E,-1,-1\n1,2,I,1,7\n"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), rep.Rows)
	assert.Equal(t, int64(1), rep.Inserted)
	assert.Equal(t, int64(1), rep.Failed)
	assert.Equal(t, 1, rep.Commits)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgres_RebuildIndexes(t *testing.T) {
	store, mockPool := newMockStore(t)

	for _, stmt := range []string{
		"DROP INDEX IF EXISTS idx_tick",
		"CREATE INDEX idx_tick ON epihiper_output (tick)",
		"DROP INDEX IF EXISTS idx_pid",
		"CREATE INDEX idx_pid ON epihiper_output (pid)",
	} {
		mockPool.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("OK", 0))
	}

	require.NoError(t, store.RebuildIndexes(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgres_PIDsByExitState(t *testing.T) {
	store, mockPool := newMockStore(t)

	rows := pgxmock.NewRows([]string{"tick", "pid"}).
		AddRow(int64(1), int64(10)).
		AddRow(int64(1), int64(11)).
		AddRow(int64(4), int64(12))
	mockPool.ExpectQuery(regexp.QuoteMeta("SELECT tick, pid FROM epihiper_output WHERE exit_state = $1")).
		WithArgs("I").
		WillReturnRows(rows)

	got, err := store.PIDsByExitState(context.Background(), "I")
	require.NoError(t, err)
	assert.Equal(t, map[int][]int64{1: {10, 11}, 4: {12}}, got)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgres_Retryable(t *testing.T) {
	store, _ := newMockStore(t)

	assert.True(t, store.Retryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, store.Retryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, store.Retryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, store.Retryable(errors.New("syntax error")))
}
