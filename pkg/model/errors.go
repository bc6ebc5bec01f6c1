package model

import (
	"errors"
	"fmt"
)

// ErrMalformedRow is matched by every ParseError.
var ErrMalformedRow = errors.New("malformed row")

// ParseError describes a row that could not be coerced into a record.
type ParseError struct {
	Source string // file path or logical source name
	Line   int    // 1-based physical line, 0 if unknown
	Column string // column name, empty for row-level problems
	Cause  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	loc := e.Source
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	if loc == "" {
		loc = "row"
	}
	if e.Column != "" {
		return fmt.Sprintf("%s: column %s: %v", loc, e.Column, e.Cause)
	}
	return fmt.Sprintf("%s: %v", loc, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Is reports ErrMalformedRow as a match for any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedRow
}

// At returns a copy of e positioned at source and line.
func (e *ParseError) At(source string, line int) *ParseError {
	cp := *e
	cp.Source = source
	cp.Line = line
	return &cp
}

func columnError(column string, cause error) *ParseError {
	return &ParseError{Column: column, Cause: cause}
}

func rowError(format string, args ...any) *ParseError {
	return &ParseError{Cause: fmt.Errorf(format, args...)}
}
