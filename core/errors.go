// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the error taxonomy shared by the builder, compilers,
// drivers and hydrator.
package core

import (
	"errors"
	"strings"
)

// Sentinel errors. Callers match them with errors.Is; the concrete value is
// usually an *Error carrying the operation and the offending name.
var (
	// ErrConnectionNotFound is returned when an unknown connection name is resolved.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrQueryCompilation is returned when the IR cannot be translated for a backend.
	ErrQueryCompilation = errors.New("query compilation failed")

	// ErrSchemaMismatch is returned for heterogeneous or unknown insert attributes.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrUnboundedMutation is returned for update/delete without filters or override.
	ErrUnboundedMutation = errors.New("unbounded mutation")

	// ErrNotFound is returned by FindOrFail when no record matches.
	ErrNotFound = errors.New("record not found")

	// ErrHydration is returned when raw data cannot be cast into the model's shape.
	ErrHydration = errors.New("hydration failed")

	// ErrMissingKey is returned when a relation is resolved without its local key.
	ErrMissingKey = errors.New("missing relation key")

	// ErrUnsupportedOperation is returned for operations a backend cannot perform.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidArgument is returned for contract violations such as a negative limit.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error is a detailed error with context about where it happened.
//
// Field and Connection name the offending column/attribute and connection
// when they apply, so failures can be root-caused without tracing.
type Error struct {
	Op         string // Operation that failed (where, insert, hydrate, ...)
	Model      string // Model name, if any
	Field      string // Offending field/column, if any
	Connection string // Connection name, if any
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("golem: ")
	b.WriteString(e.Op)
	contextList := []string{}
	if e.Model != "" {
		contextList = append(contextList, "model="+e.Model)
	}
	if e.Field != "" {
		contextList = append(contextList, "field="+e.Field)
	}
	if e.Connection != "" {
		contextList = append(contextList, "connection="+e.Connection)
	}
	if len(contextList) > 0 {
		b.WriteString(" (" + strings.Join(contextList, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates a record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
