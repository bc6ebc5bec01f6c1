package outputdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// DBPool is the subset of pgxpool.Pool the Postgres backend uses, so that
// tests can substitute a mock pool.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps output rows in a Postgres table.
type PostgresStore struct {
	pool   DBPool
	table  string
	logger logging.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres creates a connection pool for dsn and verifies it.
func OpenPostgres(ctx context.Context, dsn, table string, logger logging.Logger) (*PostgresStore, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %v", ErrConnection, err)
	}
	s, err := NewPostgres(ctx, pool, table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool and pings it.
func NewPostgres(ctx context.Context, pool DBPool, table string, logger logging.Logger) (*PostgresStore, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return &PostgresStore{pool: pool, table: table, logger: logger}, nil
}

// CreateTable implements Store.
func (s *PostgresStore) CreateTable(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		out_id BIGSERIAL PRIMARY KEY,
		tick INTEGER NOT NULL,
		pid BIGINT NOT NULL,
		exit_state TEXT,
		contact_pid BIGINT NULL,
		lid BIGINT NULL
	)`, s.table)

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

const (
	savepoint         = "SAVEPOINT ingest_row"
	releaseSavepoint  = "RELEASE SAVEPOINT ingest_row"
	rollbackSavepoint = "ROLLBACK TO SAVEPOINT ingest_row"
)

func (s *PostgresStore) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (tick, pid, exit_state, contact_pid, lid) VALUES ($1, $2, $3, $4, $5)", s.table)
}

// Begin implements Store.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx, insert: s.insertSQL()}, nil
}

// pgTx guards each insert with a savepoint; a failed statement would
// otherwise abort the whole transaction.
type pgTx struct {
	tx     pgx.Tx
	insert string
	done   bool
}

func (t *pgTx) Insert(ctx context.Context, row model.OutputRow) error {
	if t.done {
		return ErrTxDone
	}
	if _, err := t.tx.Exec(ctx, savepoint); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, t.insert, row.Tick, row.PID, row.ExitState, nullable(row.ContactPID), nullable(row.LID))
	if err != nil {
		if _, rerr := t.tx.Exec(ctx, rollbackSavepoint); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	_, err = t.tx.Exec(ctx, releaseSavepoint)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// RebuildIndexes implements Store.
func (s *PostgresStore) RebuildIndexes(ctx context.Context) error {
	for _, idx := range []struct{ name, column string }{{IndexTick, "tick"}, {IndexPID, "pid"}} {
		if _, err := s.pool.Exec(ctx, "DROP INDEX IF EXISTS "+idx.name); err != nil {
			return fmt.Errorf("drop index %s: %w", idx.name, err)
		}
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, s.table, idx.column)); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Indexes implements Store. The primary key index is excluded.
func (s *PostgresStore) Indexes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT indexname FROM pg_indexes WHERE tablename = $1 AND indexname <> $2 ORDER BY indexname",
		s.table, s.table+"_pkey")
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// PIDsByExitState implements Store.
func (s *PostgresStore) PIDsByExitState(ctx context.Context, state string) (map[int][]int64, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT tick, pid FROM %s WHERE exit_state = $1 ORDER BY out_id", s.table), state)
	if err != nil {
		return nil, fmt.Errorf("query exit state %s: %w", state, err)
	}
	defer rows.Close()

	out := make(map[int][]int64)
	for rows.Next() {
		var tick, pid int64
		if err := rows.Scan(&tick, &pid); err != nil {
			return nil, err
		}
		out[int(tick)] = append(out[int(tick)], pid)
	}
	return out, rows.Err()
}

// Walk implements Store.
func (s *PostgresStore) Walk(ctx context.Context, fn func(model.OutputRow) error) error {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT tick, pid, exit_state, contact_pid, lid FROM %s ORDER BY out_id", s.table))
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tick  int64
			state *string
			r     model.OutputRow
		)
		if err := rows.Scan(&tick, &r.PID, &state, &r.ContactPID, &r.LID); err != nil {
			return err
		}
		r.Tick = int(tick)
		if state != nil {
			r.ExitState = *state
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+s.table).Scan(&n)
	return n, err
}

// Retryable implements Store: serialization failures, deadlocks and
// errors raised before anything reached the server.
func (s *PostgresStore) Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return pgconn.SafeToRetry(err)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
