// Package sqlgen compiles the golem query IR into parameterized SQL.
// This file renders the DDL statements used by the schema services.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/leandroluk/golem/v2/core"
)

// DDL is a schema statement with its bound arguments.
type DDL struct {
	Text string
	Args []any
}

// CreateTable renders CREATE TABLE for the columns.
//
// Increments columns carry their own primary key clause; other primary-key
// columns become a table-level PRIMARY KEY constraint.
func (c *Compiler) CreateTable(name string, columnList []core.Column) (DDL, error) {
	if name == "" {
		return DDL{}, fmt.Errorf("%w: empty table name", core.ErrInvalidArgument)
	}
	if len(columnList) == 0 {
		return DDL{}, &core.Error{Op: "create_table", Field: name, Err: fmt.Errorf("%w: table without columns", core.ErrInvalidArgument)}
	}
	definitionList := make([]string, 0, len(columnList)+1)
	primaryKeyList := []string{}
	for _, column := range columnList {
		definition, err := c.columnDefinition(column)
		if err != nil {
			return DDL{}, err
		}
		definitionList = append(definitionList, definition)
		if column.PrimaryKey && column.Type != core.ColumnIncrements {
			primaryKeyList = append(primaryKeyList, c.dialect.Quote(column.Name))
		}
	}
	if len(primaryKeyList) > 0 {
		definitionList = append(definitionList, "PRIMARY KEY ("+strings.Join(primaryKeyList, ", ")+")")
	}
	text := "CREATE TABLE " + c.dialect.Quote(name) + " (" + strings.Join(definitionList, ", ") + ")"
	return DDL{Text: text}, nil
}

func (c *Compiler) columnDefinition(column core.Column) (string, error) {
	if err := column.Validate(); err != nil {
		return "", err
	}
	definition := c.dialect.Quote(column.Name) + " " + c.dialect.columnType(column)
	if column.Type == core.ColumnIncrements {
		return definition, nil
	}
	if !column.Nullable || column.PrimaryKey {
		definition += " NOT NULL"
	}
	if column.Unique && !column.PrimaryKey {
		definition += " UNIQUE"
	}
	if column.Default != "" {
		definition += " DEFAULT " + column.Default
	}
	return definition, nil
}

// DropTable renders DROP TABLE IF EXISTS.
func (c *Compiler) DropTable(name string) DDL {
	return DDL{Text: "DROP TABLE IF EXISTS " + c.dialect.Quote(name)}
}

// AlterTable renders one ALTER TABLE statement per change, in order.
func (c *Compiler) AlterTable(name string, changeList []core.Change) ([]DDL, error) {
	if len(changeList) == 0 {
		return nil, &core.Error{Op: "alter_table", Field: name, Err: fmt.Errorf("%w: no changes", core.ErrInvalidArgument)}
	}
	table := "ALTER TABLE " + c.dialect.Quote(name)
	statementList := make([]DDL, 0, len(changeList))
	for _, change := range changeList {
		switch change.Kind {
		case core.AddColumn:
			definition, err := c.columnDefinition(change.Column)
			if err != nil {
				return nil, err
			}
			statementList = append(statementList, DDL{Text: table + " ADD COLUMN " + definition})
		case core.DropColumn:
			if change.Name == "" {
				return nil, &core.Error{Op: "alter_table", Field: name, Err: fmt.Errorf("%w: drop without column name", core.ErrInvalidArgument)}
			}
			statementList = append(statementList, DDL{Text: table + " DROP COLUMN " + c.dialect.Quote(change.Name)})
		case core.RenameColumn:
			if change.Name == "" || change.NewName == "" {
				return nil, &core.Error{Op: "alter_table", Field: name, Err: fmt.Errorf("%w: rename requires both names", core.ErrInvalidArgument)}
			}
			statementList = append(statementList, DDL{Text: table + " RENAME COLUMN " + c.dialect.Quote(change.Name) + " TO " + c.dialect.Quote(change.NewName)})
		default:
			return nil, &core.Error{Op: "alter_table", Field: name, Err: fmt.Errorf("%w: unknown change %q", core.ErrInvalidArgument, change.Kind)}
		}
	}
	return statementList, nil
}

// TableExists renders the probe that counts tables with the given name.
func (c *Compiler) TableExists(name string) DDL {
	text, argList := c.dialect.tableExists(name)
	return DDL{Text: text, Args: argList}
}
