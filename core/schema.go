// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the schema (DDL) service contract and the column
// definitions it consumes.
package core

import (
	"context"
	"fmt"
)

// ColumnType is the backend-neutral type of a table column.
type ColumnType string

const (
	ColumnString     ColumnType = "string"
	ColumnText       ColumnType = "text"
	ColumnInteger    ColumnType = "integer"
	ColumnBigInteger ColumnType = "bigint"
	ColumnFloat      ColumnType = "float"
	ColumnBoolean    ColumnType = "boolean"
	ColumnTimestamp  ColumnType = "timestamp"
	ColumnJSON       ColumnType = "json"
	ColumnUUID       ColumnType = "uuid"
	ColumnIncrements ColumnType = "increments" // auto-incrementing integer key
)

// Column describes one column of a table (or one validated field of a collection).
type Column struct {
	Name       string     `yaml:"name"`
	Type       ColumnType `yaml:"type"`
	Size       int        `yaml:"size"`
	Nullable   bool       `yaml:"nullable"`
	PrimaryKey bool       `yaml:"primary_key"`
	Unique     bool       `yaml:"unique"`
	Default    string     `yaml:"default"` // SQL literal, emitted verbatim
}

// Validate checks that the column can be rendered by any dialect.
func (c Column) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: column without name", ErrInvalidArgument)
	}
	switch c.Type {
	case ColumnString, ColumnText, ColumnInteger, ColumnBigInteger, ColumnFloat,
		ColumnBoolean, ColumnTimestamp, ColumnJSON, ColumnUUID, ColumnIncrements:
		return nil
	}
	return &Error{Op: "schema", Field: c.Name, Err: fmt.Errorf("%w: unknown column type %q", ErrInvalidArgument, c.Type)}
}

// ChangeKind is the kind of an ALTER TABLE change.
type ChangeKind string

const (
	AddColumn    ChangeKind = "add"
	DropColumn   ChangeKind = "drop"
	RenameColumn ChangeKind = "rename"
)

// Change is one alteration applied by SchemaService.AlterTable.
//
// AddColumn uses Column; DropColumn uses Name; RenameColumn uses Name and NewName.
type Change struct {
	Kind    ChangeKind
	Column  Column
	Name    string
	NewName string
}

// SchemaService exposes per-backend DDL operations.
//
// The query engine never calls it on its own; migration tooling and the CLI do.
type SchemaService interface {
	// CreateTable creates a table (or collection) with the given columns.
	CreateTable(ctx context.Context, name string, columnList []Column) error
	// DropTable drops a table (or collection). Dropping a missing table is not an error.
	DropTable(ctx context.Context, name string) error
	// TableExists reports whether the table (or collection) exists.
	TableExists(ctx context.Context, name string) (bool, error)
	// AlterTable applies changes. Schemaless backends fail with ErrUnsupportedOperation.
	AlterTable(ctx context.Context, name string, changeList []Change) error
}
