// Package pipeline runs a sequence of named operations against the graph
// and relational stores.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
)

// Operation names accepted on the command line.
const (
	OpConnect             = "connect"
	OpCreateConstraints   = "create_constraints"
	OpCreateIndexes       = "create_indexes"
	OpPurgeDB             = "purge_db"
	OpLoadNodes           = "load_nodes"
	OpLoadInitialEdges    = "load_initial_edges"
	OpLoadEdges           = "load_edges"
	OpCreateOutputDB      = "create_output_db"
	OpLoadOutput          = "load_output"
	OpCreateOutputIndexes = "create_output_indexes"
	OpFetchPIDs           = "fetch_pids_by_exit_state"
	OpExportOutput        = "export_output"
	OpExtract1NN          = "extract_1nn"
	OpResetCheckpoints    = "reset_checkpoints"
)

// OpSeparator joins operations in the single positional argument.
const OpSeparator = "->"

// Operations lists every operation in its usual run order.
var Operations = []string{
	OpConnect,
	OpPurgeDB,
	OpCreateConstraints,
	OpCreateIndexes,
	OpLoadNodes,
	OpLoadInitialEdges,
	OpLoadEdges,
	OpCreateOutputDB,
	OpLoadOutput,
	OpCreateOutputIndexes,
	OpFetchPIDs,
	OpExportOutput,
	OpExtract1NN,
	OpResetCheckpoints,
}

// aliases maps legacy operation names to current ones.
var aliases = map[string]string{
	"neo4j_driver":         OpConnect,
	"create_nodes":         OpLoadNodes,
	"create_init_cn_edges": OpLoadInitialEdges,
	"create_int_cn_edges":  OpLoadEdges,
}

// ErrUnknownOp is returned by ParseOps for a name that is neither an
// operation nor an alias.
var ErrUnknownOp = errors.New("unknown operation")

// Canonical resolves name to an operation, following aliases.
func Canonical(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if op, ok := aliases[name]; ok {
		return op, true
	}
	for _, op := range Operations {
		if op == name {
			return op, true
		}
	}
	return "", false
}

// ParseOps splits an "a->b->c" chain. Empty names are skipped; every
// unknown name is reported before anything runs.
func ParseOps(chain string, logger logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var (
		ops     []string
		unknown []error
	)
	for i, raw := range strings.Split(chain, OpSeparator) {
		name := strings.TrimSpace(raw)
		if name == "" {
			logger.Warn("skipping empty operation name", logging.Int("position", i))
			continue
		}
		op, ok := Canonical(name)
		if !ok {
			unknown = append(unknown, fmt.Errorf("%w: %q", ErrUnknownOp, name))
			continue
		}
		if op != strings.ToLower(name) {
			logger.Debug("operation alias", logging.String("alias", name), logging.Operation(op))
		}
		ops = append(ops, op)
	}
	if len(unknown) > 0 {
		return nil, errors.Join(unknown...)
	}
	return ops, nil
}
