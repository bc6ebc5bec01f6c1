package outputdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// Primary result codes that clear on their own.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// SQLiteStore keeps output rows in a single-file database in WAL mode.
type SQLiteStore struct {
	db     *sql.DB
	table  string
	logger logging.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at dsn.
func OpenSQLite(ctx context.Context, dsn, table string, logger logging.Logger) (*SQLiteStore, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", ErrConnection, dsn, err)
	}
	// one connection keeps per-connection pragmas consistent
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrConnection, pragma, err)
		}
	}

	logger.Debug("sqlite output store opened", logging.Path(dsn), logging.String("table", table))
	return &SQLiteStore{db: db, table: table, logger: logger}, nil
}

// CreateTable implements Store.
func (s *SQLiteStore) CreateTable(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		out_id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		pid INTEGER NOT NULL,
		exit_state TEXT,
		contact_pid INTEGER NULL,
		lid INTEGER NULL
	)`, s.table)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Begin implements Store.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (tick, pid, exit_state, contact_pid, lid) VALUES (?, ?, ?, ?, ?)", s.table))
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &sqliteTx{tx: tx, insert: stmt}, nil
}

type sqliteTx struct {
	tx     *sql.Tx
	insert *sql.Stmt
	done   bool
}

// Insert relies on SQLite rolling back only the failed statement.
func (t *sqliteTx) Insert(ctx context.Context, row model.OutputRow) error {
	if t.done {
		return ErrTxDone
	}
	_, err := t.insert.ExecContext(ctx, row.Tick, row.PID, row.ExitState, nullable(row.ContactPID), nullable(row.LID))
	return err
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.insert.Close()
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.insert.Close()
	return t.tx.Rollback()
}

// RebuildIndexes implements Store.
func (s *SQLiteStore) RebuildIndexes(ctx context.Context) error {
	for _, idx := range []struct{ name, column string }{{IndexTick, "tick"}, {IndexPID, "pid"}} {
		if _, err := s.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+idx.name); err != nil {
			return fmt.Errorf("drop index %s: %w", idx.name, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, s.table, idx.column)); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Indexes implements Store.
func (s *SQLiteStore) Indexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND name NOT LIKE 'sqlite_%' ORDER BY name",
		s.table)
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
func (s *SQLiteStore) PIDsByExitState(ctx context.Context, state string) (map[int][]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT tick, pid FROM %s WHERE exit_state = ? ORDER BY out_id", s.table), state)
	if err != nil {
		return nil, fmt.Errorf("query exit state %s: %w", state, err)
	}
	defer rows.Close()

	out := make(map[int][]int64)
	for rows.Next() {
		var (
			tick int
			pid  int64
		)
		if err := rows.Scan(&tick, &pid); err != nil {
			return nil, err
		}
		out[tick] = append(out[tick], pid)
	}
	return out, rows.Err()
}

// Walk implements Store.
func (s *SQLiteStore) Walk(ctx context.Context, fn func(model.OutputRow) error) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT tick, pid, exit_state, contact_pid, lid FROM %s ORDER BY out_id", s.table))
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r            model.OutputRow
			state        sql.NullString
			contact, lid sql.NullInt64
		)
		if err := rows.Scan(&r.Tick, &r.PID, &state, &contact, &lid); err != nil {
			return err
		}
		r.ExitState = state.String
		if contact.Valid {
			r.ContactPID = &contact.Int64
		}
		if lid.Valid {
			r.LID = &lid.Int64
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+s.table).Scan(&n)
	return n, err
}

// Retryable implements Store.
func (s *SQLiteStore) Retryable(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	return false
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
