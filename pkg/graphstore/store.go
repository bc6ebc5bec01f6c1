// Package graphstore defines the narrow graph-database interface the
// loaders and the extractor depend on.
package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// Edition selects which constraints a store supports.
type Edition string

const (
	Community  Edition = "community"
	Enterprise Edition = "enterprise"
)

// ParseEdition accepts "community" or "enterprise", case-insensitively.
func ParseEdition(s string) (Edition, error) {
	switch e := Edition(strings.ToLower(strings.TrimSpace(s))); e {
	case Community, Enterprise:
		return e, nil
	case "":
		return Community, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEdition, s)
	}
}

// AccessMode selects a read or write session.
type AccessMode int

const (
	Write AccessMode = iota
	Read
)

// ContactResult reports one CreateContacts call.
type ContactResult struct {
	Created int // new relationships
	Merged  int // rows matching a relationship already present
	Dropped int // rows whose source or target person does not exist
}

// PurgeResult reports what Purge removed.
type PurgeResult struct {
	Nodes       int64
	Indexes     int
	Constraints int
}

// Store opens sessions against a graph database.
type Store interface {
	// Verify checks connectivity; failures wrap ErrConnection.
	Verify(ctx context.Context) error
	NewSession(ctx context.Context, mode AccessMode) (Session, error)
	// Retryable reports whether a failed write may succeed if retried.
	Retryable(err error) bool
	Close(ctx context.Context) error
}

// Session is a scoped unit of work. Each write call runs in its own
// transaction and either commits entirely or not at all.
type Session interface {
	EnsureConstraints(ctx context.Context, edition Edition) error
	EnsureIndexes(ctx context.Context) error
	Purge(ctx context.Context, batchSize int) (PurgeResult, error)

	// UpsertPersons merges persons on pid; later rows overwrite attributes.
	UpsertPersons(ctx context.Context, persons []model.Person) (int, error)
	// CreateContacts links existing persons; edges are merged on
	// (occur, seq) so replays do not duplicate them.
	CreateContacts(ctx context.Context, edges []model.ContactEdge) (ContactResult, error)
	// IncomingContacts returns edges at tick whose target is in core,
	// ordered by seq.
	IncomingContacts(ctx context.Context, core []int64, tick, skip, limit int) ([]model.ContactTriple, error)

	CountPersons(ctx context.Context) (int64, error)
	// CountContacts counts edges at occur, or all edges when occur is nil.
	CountContacts(ctx context.Context, occur *int) (int64, error)
	Close(ctx context.Context) error
}
