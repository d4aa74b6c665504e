// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the backend-neutral query intermediate representation
// consumed by the SQL and document-pipeline compilers.
package core

import (
	"fmt"
	"sort"
	"strings"
)

// Operation represents the type of operation described by a Query.
//
// It is also passed to middlewares to distinguish between reads and writes.
type Operation string

const (
	// OperationSelect reads records.
	OperationSelect Operation = "select"
	// OperationInsert creates records.
	OperationInsert Operation = "insert"
	// OperationUpdate modifies records matching the filter.
	OperationUpdate Operation = "update"
	// OperationDelete removes records matching the filter.
	OperationDelete Operation = "delete"
	// OperationCount counts records matching the filter.
	OperationCount Operation = "count"
)

// Direction is a sort direction: 1 for ascending, -1 for descending.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// ParseDirection converts "asc"/"desc" (any case) into a Direction.
// An empty string means ascending.
func ParseDirection(token string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return 0, fmt.Errorf("%w: unknown sort direction %q", ErrInvalidArgument, token)
}

// String returns the SQL keyword for the direction.
func (d Direction) String() string {
	if d < 0 {
		return "DESC"
	}
	return "ASC"
}

// Sort represents an ordering rule used in queries.
type Sort struct {
	FieldName string
	Direction Direction
}

// Attributes is a set of field values, mapping column names to values.
// It is used for insert payloads, update changes and record attribute bags.
type Attributes map[string]any

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keyList := make([]string, 0, len(a))
	for key := range a {
		keyList = append(keyList, key)
	}
	sort.Strings(keyList)
	return keyList
}

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for key, value := range a {
		out[key] = value
	}
	return out
}

// Source names the table or collection a query targets.
//
// Key is the primary-key column of the model; the document compiler uses it
// to map the key onto the backend's "_id" field.
type Source struct {
	Name  string
	Alias string
	Key   string
}

// Query is the intermediate representation of one database operation.
//
// A Query is built by the Builder for a single terminal call and discarded
// afterwards. Compilers treat it as read-only.
type Query struct {
	Source     Source
	Filter     *Condition
	Sort       []Sort
	Limit      *int
	Offset     *int
	Projection []string
	Operation  Operation
	Payload    []Attributes // insert rows
	Changes    Attributes   // update set
}

// HasFilter reports whether the query carries any structured or raw predicate.
func (q *Query) HasFilter() bool {
	return q.Filter.HasPredicate()
}

// Validate checks the structural invariants every compiler relies on.
func (q *Query) Validate() error {
	if q.Source.Name == "" {
		return fmt.Errorf("%w: query has no source", ErrInvalidArgument)
	}
	if q.Limit != nil && *q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidArgument, *q.Limit)
	}
	if q.Offset != nil && *q.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, *q.Offset)
	}
	switch q.Operation {
	case OperationSelect, OperationCount, OperationDelete:
		return nil
	case OperationInsert:
		if len(q.Payload) == 0 {
			return fmt.Errorf("%w: insert requires at least one record", ErrInvalidArgument)
		}
		if field, ok := sameKeySet(q.Payload); !ok {
			return &Error{Op: "insert", Field: field, Err: fmt.Errorf("%w: records do not share the same attribute set", ErrSchemaMismatch)}
		}
		if len(q.Payload[0]) == 0 {
			return fmt.Errorf("%w: insert records have no attributes", ErrInvalidArgument)
		}
		return nil
	case OperationUpdate:
		if len(q.Changes) == 0 {
			return fmt.Errorf("%w: update requires at least one attribute", ErrInvalidArgument)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown operation %q", ErrQueryCompilation, q.Operation)
}

// sameKeySet checks that every payload row has the key set of the first row.
// On mismatch it returns the first attribute name that differs.
func sameKeySet(payload []Attributes) (string, bool) {
	if len(payload) == 0 {
		return "", true
	}
	first := payload[0]
	for _, row := range payload[1:] {
		for _, key := range row.Keys() {
			if _, ok := first[key]; !ok {
				return key, false
			}
		}
		for _, key := range first.Keys() {
			if _, ok := row[key]; !ok {
				return key, false
			}
		}
	}
	return "", true
}
