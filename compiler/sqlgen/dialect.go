// Package sqlgen compiles the golem query IR into parameterized SQL for the
// supported relational dialects.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leandroluk/golem/v2/core"
)

// Dialect captures the syntax differences between relational backends.
type Dialect interface {
	// Name returns the dialect name ("postgres", "sqlite", "mysql").
	Name() string
	// Quote quotes an identifier, quoting each part of a dotted name.
	Quote(identifier string) string
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string
	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool
	// unboundedLimit is the LIMIT literal emitted when only an offset is set.
	// Empty means OFFSET may stand alone.
	unboundedLimit() string
	// iLike renders a case-insensitive LIKE.
	iLike(column, placeholder string) string
	// columnType maps a column definition to the native type, including the
	// primary key clause for auto-incrementing keys.
	columnType(column core.Column) string
	// tableExists returns the probe counting tables with the given name.
	tableExists(name string) (string, []any)
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return nil, fmt.Errorf("%w: unknown sql dialect %q", core.ErrInvalidArgument, name)
}

var (
	// Postgres renders "ident", $n placeholders and RETURNING.
	Postgres Dialect = postgresDialect{}
	// SQLite renders "ident", ? placeholders and RETURNING.
	SQLite Dialect = sqliteDialect{}
	// MySQL renders `ident`, ? placeholders and no RETURNING.
	MySQL Dialect = mysqlDialect{}
)

func quoteWith(identifier string, quote string) string {
	partList := strings.Split(identifier, ".")
	for i, part := range partList {
		if part == "*" {
			continue
		}
		partList[i] = quote + strings.ReplaceAll(part, quote, quote+quote) + quote
	}
	return strings.Join(partList, ".")
}

func splitSchema(name string) (string, string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func sizeOr(size, fallback int) string {
	if size <= 0 {
		size = fallback
	}
	return strconv.Itoa(size)
}

//region postgres

type postgresDialect struct{}

func (postgresDialect) Name() string                  { return "postgres" }
func (postgresDialect) Quote(identifier string) string { return quoteWith(identifier, `"`) }
func (postgresDialect) Placeholder(n int) string      { return "$" + strconv.Itoa(n) }
func (postgresDialect) SupportsReturning() bool       { return true }
func (postgresDialect) unboundedLimit() string        { return "" }

func (postgresDialect) iLike(column, placeholder string) string {
	return column + " ILIKE " + placeholder
}

func (postgresDialect) columnType(column core.Column) string {
	switch column.Type {
	case core.ColumnString:
		return "VARCHAR(" + sizeOr(column.Size, 255) + ")"
	case core.ColumnText:
		return "TEXT"
	case core.ColumnInteger:
		return "INTEGER"
	case core.ColumnBigInteger:
		return "BIGINT"
	case core.ColumnFloat:
		return "DOUBLE PRECISION"
	case core.ColumnBoolean:
		return "BOOLEAN"
	case core.ColumnTimestamp:
		return "TIMESTAMPTZ"
	case core.ColumnJSON:
		return "JSONB"
	case core.ColumnUUID:
		return "UUID"
	case core.ColumnIncrements:
		return "BIGSERIAL PRIMARY KEY"
	}
	return ""
}

func (postgresDialect) tableExists(name string) (string, []any) {
	schema, table := splitSchema(name)
	if schema == "" {
		return "SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", []any{table}
	}
	return "SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2", []any{schema, table}
}

//endregion

//region sqlite

type sqliteDialect struct{}

func (sqliteDialect) Name() string                  { return "sqlite" }
func (sqliteDialect) Quote(identifier string) string { return quoteWith(identifier, `"`) }
func (sqliteDialect) Placeholder(int) string        { return "?" }
func (sqliteDialect) SupportsReturning() bool       { return true }
func (sqliteDialect) unboundedLimit() string        { return "-1" }

func (sqliteDialect) iLike(column, placeholder string) string {
	return "LOWER(" + column + ") LIKE LOWER(" + placeholder + ")"
}

func (sqliteDialect) columnType(column core.Column) string {
	switch column.Type {
	case core.ColumnString:
		return "VARCHAR(" + sizeOr(column.Size, 255) + ")"
	case core.ColumnText, core.ColumnJSON, core.ColumnUUID:
		return "TEXT"
	case core.ColumnInteger:
		return "INTEGER"
	case core.ColumnBigInteger:
		return "BIGINT"
	case core.ColumnFloat:
		return "REAL"
	case core.ColumnBoolean:
		return "BOOLEAN"
	case core.ColumnTimestamp:
		return "DATETIME"
	case core.ColumnIncrements:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return ""
}

func (sqliteDialect) tableExists(name string) (string, []any) {
	_, table := splitSchema(name)
	return "SELECT COUNT(*) AS count FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
}

//endregion

//region mysql

type mysqlDialect struct{}

func (mysqlDialect) Name() string                  { return "mysql" }
func (mysqlDialect) Quote(identifier string) string { return quoteWith(identifier, "`") }
func (mysqlDialect) Placeholder(int) string        { return "?" }
func (mysqlDialect) SupportsReturning() bool       { return false }
func (mysqlDialect) unboundedLimit() string        { return "18446744073709551615" }

func (mysqlDialect) iLike(column, placeholder string) string {
	return "LOWER(" + column + ") LIKE LOWER(" + placeholder + ")"
}

func (mysqlDialect) columnType(column core.Column) string {
	switch column.Type {
	case core.ColumnString:
		return "VARCHAR(" + sizeOr(column.Size, 255) + ")"
	case core.ColumnText:
		return "TEXT"
	case core.ColumnInteger:
		return "INT"
	case core.ColumnBigInteger:
		return "BIGINT"
	case core.ColumnFloat:
		return "DOUBLE"
	case core.ColumnBoolean:
		return "BOOLEAN"
	case core.ColumnTimestamp:
		return "DATETIME(6)"
	case core.ColumnJSON:
		return "JSON"
	case core.ColumnUUID:
		return "CHAR(36)"
	case core.ColumnIncrements:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	return ""
}

func (mysqlDialect) tableExists(name string) (string, []any) {
	schema, table := splitSchema(name)
	if schema == "" {
		return "SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
	}
	return "SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", []any{schema, table}
}

//endregion
