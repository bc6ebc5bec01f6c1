package graphstore

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrConnection     = errors.New("graph store connection failed")
	ErrTransaction    = errors.New("graph store transaction failed")
	ErrClosed         = errors.New("graph store session is closed")
	ErrUnknownEdition = errors.New("unknown graph store edition")
	ErrSchema         = errors.New("schema operation failed")
)

// StoreError provides structured error information for graph store operations.
type StoreError struct {
	Op      string // Operation that failed (e.g., "UpsertPersons", "EnsureIndexes")
	Entity  string // Entity type (e.g., "person", "contact", "index")
	Name    string // Schema object name, when applicable
	Source  string // Source file or partition the records came from
	Records int    // Batch size, when applicable
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Op + " " + e.Entity
	if e.Name != "" {
		msg += " " + e.Name
	}
	if e.Source != "" {
		msg += fmt.Sprintf(" (source %s)", e.Source)
	}
	if e.Records > 0 {
		msg += fmt.Sprintf(" [%d records]", e.Records)
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for building StoreErrors.
type ErrorBuilder struct {
	err StoreError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: StoreError{Op: op}}
}

// Persons sets the entity to "person" with the batch size.
func (b *ErrorBuilder) Persons(n int) *ErrorBuilder {
	b.err.Entity = "person"
	b.err.Records = n
	return b
}

// Contacts sets the entity to "contact" with the batch size.
func (b *ErrorBuilder) Contacts(n int) *ErrorBuilder {
	b.err.Entity = "contact"
	b.err.Records = n
	return b
}

// Index sets the entity to "index" with the given name.
func (b *ErrorBuilder) Index(name string) *ErrorBuilder {
	b.err.Entity = "index"
	b.err.Name = name
	return b
}

// Constraint sets the entity to "constraint" with the given name.
func (b *ErrorBuilder) Constraint(name string) *ErrorBuilder {
	b.err.Entity = "constraint"
	b.err.Name = name
	return b
}

// Entity sets a free-form entity.
func (b *ErrorBuilder) Entity(entity string) *ErrorBuilder {
	b.err.Entity = entity
	return b
}

// Source sets the source file name.
func (b *ErrorBuilder) Source(name string) *ErrorBuilder {
	b.err.Source = name
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Build returns the constructed StoreError.
func (b *ErrorBuilder) Build() *StoreError {
	return &b.err
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// TransactionError wraps a failed write with ErrTransaction.
func TransactionError(op string, cause error) error {
	return NewError(op).Entity("transaction").Cause(fmt.Errorf("%w: %w", ErrTransaction, cause)).Err()
}

// ConnectionError wraps a connectivity failure with ErrConnection.
func ConnectionError(target string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnection, target, cause)
}

// IsConnection reports whether err is a connectivity failure.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsClosed reports whether err indicates a closed session.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
