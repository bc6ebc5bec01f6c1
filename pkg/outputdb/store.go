// Package outputdb keeps simulation output rows in a relational table.
package outputdb

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// DefaultTable is the output table name used when none is configured.
const DefaultTable = "epihiper_output"

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Index names rebuilt after a load.
const (
	IndexTick = "idx_tick"
	IndexPID  = "idx_pid"
)

var (
	ErrConnection = errors.New("relational store unreachable")
	ErrTableName  = errors.New("invalid table name")
	ErrDriver     = errors.New("unknown relational driver")
	ErrTxDone     = errors.New("transaction already finished")
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTable checks that name can be used as an unquoted identifier.
// Table names cannot be bound as parameters.
func ValidateTable(name string) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrTableName, name)
	}
	return nil
}

// Store is a relational backend for simulation output.
type Store interface {
	// CreateTable creates the output table if it does not exist.
	CreateTable(ctx context.Context) error
	// Begin opens a write transaction.
	Begin(ctx context.Context) (Tx, error)
	// RebuildIndexes drops and recreates idx_tick and idx_pid.
	RebuildIndexes(ctx context.Context) error
	// Indexes lists the index names defined on the output table.
	Indexes(ctx context.Context) ([]string, error)
	// PIDsByExitState groups the pids that entered state by tick, in
	// insertion order.
	PIDsByExitState(ctx context.Context, state string) (map[int][]int64, error)
	// Walk calls fn for every row in insertion order.
	Walk(ctx context.Context, fn func(model.OutputRow) error) error
	// Count returns the number of stored rows.
	Count(ctx context.Context) (int64, error)
	// Retryable reports whether a failed commit may succeed if repeated.
	Retryable(err error) bool
	Close() error
}

// Tx inserts rows one at a time. A failed Insert leaves the transaction
// usable for the following rows.
type Tx interface {
	Insert(ctx context.Context, row model.OutputRow) error
	Commit(ctx context.Context) error
	// Rollback is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Driver string
	DSN    string
	Table  string
}

// Open connects to the backend named by cfg.Driver and verifies the
// connection.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN, cfg.Table, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, cfg.Table, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrDriver, cfg.Driver)
	}
}

func nullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
