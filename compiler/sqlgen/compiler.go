// Package sqlgen compiles the golem query IR into parameterized SQL.
// This file renders select, count, insert, update and delete statements.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leandroluk/golem/v2/core"
)

// Statement is a compiled SQL statement with its bound arguments.
//
// Returning names the key column reported by INSERT ... RETURNING, empty
// when the statement returns nothing.
type Statement struct {
	Op        core.Operation
	Text      string
	Args      []any
	Returning string
}

// Operation implements core.Compiled.
func (s *Statement) Operation() core.Operation {
	return s.Op
}

// String returns the SQL text.
func (s *Statement) String() string {
	return s.Text
}

// Compiler translates queries into statements for one dialect.
// It holds no mutable state and is safe for concurrent use.
type Compiler struct {
	dialect Dialect
}

// NewCompiler creates a compiler for the dialect.
func NewCompiler(dialect Dialect) *Compiler {
	return &Compiler{dialect: dialect}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// writer accumulates SQL text and arguments for one statement.
type writer struct {
	dialect Dialect
	sb      strings.Builder
	argList []any
}

func (w *writer) bind(value any) string {
	w.argList = append(w.argList, value)
	return w.dialect.Placeholder(len(w.argList))
}

// Compile translates the query into a statement. Values are always bound,
// never interpolated.
func (c *Compiler) Compile(query *core.Query) (*Statement, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	w := &writer{dialect: c.dialect}
	stmt := &Statement{Op: query.Operation}

	var err error
	switch query.Operation {
	case core.OperationSelect:
		err = c.compileSelect(w, query)
	case core.OperationCount:
		err = c.compileCount(w, query)
	case core.OperationInsert:
		stmt.Returning, err = c.compileInsert(w, query)
	case core.OperationUpdate:
		err = c.compileUpdate(w, query)
	case core.OperationDelete:
		err = c.compileDelete(w, query)
	}
	if err != nil {
		return nil, err
	}
	stmt.Text = w.sb.String()
	stmt.Args = w.argList
	return stmt, nil
}

func (c *Compiler) from(query *core.Query) string {
	table := c.dialect.Quote(query.Source.Name)
	if query.Source.Alias != "" {
		table += " AS " + c.dialect.Quote(query.Source.Alias)
	}
	return table
}

func (c *Compiler) compileSelect(w *writer, query *core.Query) error {
	w.sb.WriteString("SELECT ")
	if len(query.Projection) == 0 {
		w.sb.WriteString("*")
	} else {
		columnList := make([]string, 0, len(query.Projection))
		for _, column := range query.Projection {
			columnList = append(columnList, c.dialect.Quote(column))
		}
		w.sb.WriteString(strings.Join(columnList, ", "))
	}
	w.sb.WriteString(" FROM ")
	w.sb.WriteString(c.from(query))
	if err := c.where(w, query); err != nil {
		return err
	}
	if len(query.Sort) > 0 {
		orderPartList := make([]string, 0, len(query.Sort))
		for _, sortItem := range query.Sort {
			if sortItem.FieldName == "" {
				return compileError("", "order by without column")
			}
			orderPartList = append(orderPartList, c.dialect.Quote(sortItem.FieldName)+" "+sortItem.Direction.String())
		}
		w.sb.WriteString(" ORDER BY ")
		w.sb.WriteString(strings.Join(orderPartList, ", "))
	}
	switch {
	case query.Limit != nil:
		w.sb.WriteString(" LIMIT " + strconv.Itoa(*query.Limit))
	case query.Offset != nil && c.dialect.unboundedLimit() != "":
		w.sb.WriteString(" LIMIT " + c.dialect.unboundedLimit())
	}
	if query.Offset != nil {
		w.sb.WriteString(" OFFSET " + strconv.Itoa(*query.Offset))
	}
	return nil
}

func (c *Compiler) compileCount(w *writer, query *core.Query) error {
	w.sb.WriteString("SELECT COUNT(*) AS " + c.dialect.Quote("count") + " FROM ")
	w.sb.WriteString(c.from(query))
	return c.where(w, query)
}

func (c *Compiler) compileInsert(w *writer, query *core.Query) (string, error) {
	columnNameList := query.Payload[0].Keys()
	quotedList := make([]string, 0, len(columnNameList))
	for _, column := range columnNameList {
		quotedList = append(quotedList, c.dialect.Quote(column))
	}
	w.sb.WriteString("INSERT INTO " + c.dialect.Quote(query.Source.Name))
	w.sb.WriteString(" (" + strings.Join(quotedList, ", ") + ") VALUES ")
	for i, row := range query.Payload {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		placeholderList := make([]string, 0, len(columnNameList))
		for _, column := range columnNameList {
			placeholderList = append(placeholderList, w.bind(row[column]))
		}
		w.sb.WriteString("(" + strings.Join(placeholderList, ", ") + ")")
	}
	if c.dialect.SupportsReturning() && query.Source.Key != "" {
		w.sb.WriteString(" RETURNING " + c.dialect.Quote(query.Source.Key))
		return query.Source.Key, nil
	}
	return "", nil
}

func (c *Compiler) compileUpdate(w *writer, query *core.Query) error {
	setPartList := make([]string, 0, len(query.Changes))
	for _, column := range query.Changes.Keys() {
		setPartList = append(setPartList, c.dialect.Quote(column)+" = "+w.bind(query.Changes[column]))
	}
	w.sb.WriteString("UPDATE " + c.dialect.Quote(query.Source.Name))
	w.sb.WriteString(" SET " + strings.Join(setPartList, ", "))
	return c.where(w, query)
}

func (c *Compiler) compileDelete(w *writer, query *core.Query) error {
	w.sb.WriteString("DELETE FROM " + c.dialect.Quote(query.Source.Name))
	return c.where(w, query)
}

func (c *Compiler) where(w *writer, query *core.Query) error {
	if !query.HasFilter() {
		return nil
	}
	clause, _, err := c.buildCondition(w, query.Filter)
	if err != nil {
		return err
	}
	if clause != "" {
		w.sb.WriteString(" WHERE " + clause)
	}
	return nil
}

// buildCondition renders one node. The boolean reports whether the text
// joins several terms with AND/OR and needs parentheses when nested.
func (c *Compiler) buildCondition(w *writer, condition *core.Condition) (string, bool, error) {
	if condition == nil {
		return "", false, nil
	}
	if condition.Operator == nil {
		return "", false, compileError(condition.FieldName, "condition without operator")
	}

	switch *condition.Operator {
	case core.OpAnd, core.OpOr:
		partList, compoundList, err := c.buildChildren(w, condition.Children)
		if err != nil {
			return "", false, err
		}
		switch len(partList) {
		case 0:
			return "", false, nil
		case 1:
			return partList[0], compoundList[0], nil
		}
		return strings.Join(parenthesize(partList, compoundList), " "+string(*condition.Operator)+" "), true, nil
	case core.OpNot:
		partList, compoundList, err := c.buildChildren(w, condition.Children)
		if err != nil {
			return "", false, err
		}
		if len(partList) == 0 {
			return "", false, nil
		}
		if len(partList) == 1 {
			return "NOT (" + partList[0] + ")", false, nil
		}
		return "NOT (" + strings.Join(parenthesize(partList, compoundList), " AND ") + ")", false, nil
	case core.OpRaw:
		return c.buildRaw(w, condition)
	}

	if condition.FieldName == "" {
		return "", false, compileError("", "condition without column")
	}
	column := c.dialect.Quote(condition.FieldName)
	switch *condition.Operator {
	case core.OpNil:
		return column + " IS NULL", false, nil
	case core.OpNotNil:
		return column + " IS NOT NULL", false, nil
	case core.OpEq:
		if condition.Value == nil {
			return column + " IS NULL", false, nil
		}
		return column + " = " + w.bind(condition.Value), false, nil
	case core.OpNe:
		if condition.Value == nil {
			return column + " IS NOT NULL", false, nil
		}
		return column + " <> " + w.bind(condition.Value), false, nil
	case core.OpGt:
		return column + " > " + w.bind(condition.Value), false, nil
	case core.OpGte:
		return column + " >= " + w.bind(condition.Value), false, nil
	case core.OpLt:
		return column + " < " + w.bind(condition.Value), false, nil
	case core.OpLte:
		return column + " <= " + w.bind(condition.Value), false, nil
	case core.OpLike:
		return column + " LIKE " + w.bind(condition.Value), false, nil
	case core.OpNotLike:
		return column + " NOT LIKE " + w.bind(condition.Value), false, nil
	case core.OpILike:
		return c.dialect.iLike(column, w.bind(condition.Value)), false, nil
	case core.OpIn, core.OpNotIn:
		valueList, ok := condition.Value.([]any)
		if !ok {
			return "", false, compileError(condition.FieldName, fmt.Sprintf("operator %s expects []any, got %T", *condition.Operator, condition.Value))
		}
		if len(valueList) == 0 {
			if *condition.Operator == core.OpIn {
				return "1 = 0", false, nil
			}
			return "1 = 1", false, nil
		}
		placeholderList := make([]string, 0, len(valueList))
		for _, value := range valueList {
			placeholderList = append(placeholderList, w.bind(value))
		}
		keyword := " IN ("
		if *condition.Operator == core.OpNotIn {
			keyword = " NOT IN ("
		}
		return column + keyword + strings.Join(placeholderList, ", ") + ")", false, nil
	}
	return "", false, compileError(condition.FieldName, fmt.Sprintf("unsupported operator %q", *condition.Operator))
}

// buildChildren renders every child, skipping empty groups.
func (c *Compiler) buildChildren(w *writer, children []*core.Condition) ([]string, []bool, error) {
	partList := make([]string, 0, len(children))
	compoundList := make([]bool, 0, len(children))
	for _, child := range children {
		part, compound, err := c.buildCondition(w, child)
		if err != nil {
			return nil, nil, err
		}
		if part == "" {
			continue
		}
		partList = append(partList, part)
		compoundList = append(compoundList, compound)
	}
	return partList, compoundList, nil
}

func parenthesize(partList []string, compoundList []bool) []string {
	out := make([]string, len(partList))
	for i, part := range partList {
		if compoundList[i] {
			part = "(" + part + ")"
		}
		out[i] = part
	}
	return out
}

func (c *Compiler) buildRaw(w *writer, condition *core.Condition) (string, bool, error) {
	if condition.Raw == nil {
		return "", false, compileError("", "raw condition without fragment")
	}
	fragment, ok := condition.Raw.Fragment.(string)
	if !ok {
		return "", false, compileError("", fmt.Sprintf("raw sql fragment must be a string, got %T", condition.Raw.Fragment))
	}
	if strings.TrimSpace(fragment) == "" {
		return "", false, compileError("", "empty raw sql fragment")
	}
	text, err := rewritePlaceholders(fragment, condition.Raw.Args, w.bind)
	if err != nil {
		return "", false, err
	}
	return "(" + text + ")", false, nil
}

func compileError(field, message string) error {
	return &core.Error{Op: "compile", Field: field, Err: fmt.Errorf("%w: %s", core.ErrQueryCompilation, message)}
}
