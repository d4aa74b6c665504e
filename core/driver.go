// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the connection contract every backend adapter implements.
package core

import (
	"context"
	"fmt"
	"strings"
)

// DriverKind identifies the family of a backend.
type DriverKind string

const (
	// Relational backends execute parameterized SQL.
	Relational DriverKind = "relational"
	// Document backends execute aggregation pipelines and collection operations.
	Document DriverKind = "document"
)

// ParseDriverKind converts a configuration value into a DriverKind.
func ParseDriverKind(value string) (DriverKind, error) {
	switch DriverKind(strings.ToLower(strings.TrimSpace(value))) {
	case Relational:
		return Relational, nil
	case Document:
		return Document, nil
	}
	return "", fmt.Errorf("%w: unknown driver kind %q", ErrInvalidArgument, value)
}

// Compiled is the backend-executable form of a Query: a SQL statement for
// relational connections, a pipeline for document connections.
type Compiled interface {
	Operation() Operation
}

// Result is the raw outcome of executing a compiled query.
//
// Rows carries raw rows/documents for select operations. Count is the number
// of affected records for writes and the counted total for count operations.
// IDs holds the keys of inserted records when the backend reports them.
type Result struct {
	Rows  []map[string]any
	Count int64
	IDs   []any
}

// clone copies the result down to the row maps.
func (r *Result) clone() *Result {
	out := &Result{Count: r.Count, IDs: append([]any(nil), r.IDs...)}
	if r.Rows != nil {
		out.Rows = make([]map[string]any, len(r.Rows))
		for i, row := range r.Rows {
			copied := make(map[string]any, len(row))
			for key, value := range row {
				copied[key] = value
			}
			out.Rows[i] = copied
		}
	}
	return out
}

// Connection defines the contract for database backends supported by the ORM.
//
// Each adapter (relational, document) owns exactly one underlying client or
// pool and is safe for concurrent use.
type Connection interface {
	// Name returns the registry name of the connection.
	Name() string
	// Driver returns the backend family, used to pick casts and compilers.
	Driver() DriverKind
	// Connect establishes the connection. Calling it again is a no-op.
	Connect(ctx context.Context) error
	// IsConnected reports whether Connect succeeded and Close was not called.
	IsConnected() bool
	// Compile translates a query into the backend's executable form.
	Compile(query *Query) (Compiled, error)
	// Execute runs a compiled query and returns raw rows or counts.
	Execute(ctx context.Context, compiled Compiled) (*Result, error)
	// Schema returns the DDL service bound to this connection.
	Schema() SchemaService
	// Close releases the client, waiting for in-flight requests to settle.
	Close(ctx context.Context) error
}
