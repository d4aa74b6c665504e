// Package core provides the fundamental building blocks of the golem ORM.
// It defines abstractions for queries, models, schema handling, and drivers.
package core

import (
	"fmt"
	"reflect"
)

// Condition represents a single node of a query filter tree.
//
// A condition is one of:
//   - a leaf targeting a field (FieldName) with an operator and a value;
//   - a raw backend fragment (Operator == OpRaw, Raw != nil);
//   - a logical combinator (AND, OR, NOT) grouping Children.
//
// Example:
//
//	cond := (&Condition{FieldName: "age"}).Gt(18).
//		And((&Condition{FieldName: "status"}).Eq("active"))
//
// The above creates a condition equivalent to:
//
//	(age > 18) AND (status = "active")
//
// Conditions attached to a tree are never mutated afterwards; the combinator
// methods below always allocate a new parent node.
type Condition struct {
	FieldName string       // The field/column name this condition applies to
	Operator  *Operator    // The comparison operator (Eq, Gt, Like, etc.)
	Value     any          // The comparison value
	Raw       *Raw         // Backend fragment, set only when Operator is OpRaw
	Children  []*Condition // Nested conditions (for AND, OR, NOT expressions)
}

// Raw is an opaque, backend-specific filter fragment.
//
// For relational connections Fragment is a SQL string whose "?" markers are
// bound to Args. For document connections Fragment is a filter document
// (bson.M, bson.D or map[string]any) and Args is ignored.
type Raw struct {
	Fragment any
	Args     []any
}

// NewRawCondition wraps a backend fragment into a condition node.
func NewRawCondition(fragment any, args ...any) *Condition {
	return &Condition{Operator: &OpRaw, Raw: &Raw{Fragment: fragment, Args: args}}
}

// And combines this condition with additional conditions using the logical AND operator.
func (c *Condition) And(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpAnd,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Or combines this condition with additional conditions using the logical OR operator.
func (c *Condition) Or(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpOr,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Not negates this condition using the logical NOT operator.
func (c *Condition) Not() *Condition {
	return &Condition{
		Operator: &OpNot,
		Children: []*Condition{c},
	}
}

// Nil sets this condition to check for NULL values (IS NULL).
func (c *Condition) Nil() *Condition {
	c.Operator = &OpNil
	c.Value = nil
	return c
}

// NotNil sets this condition to check for non-NULL values (IS NOT NULL).
func (c *Condition) NotNil() *Condition {
	c.Operator = &OpNotNil
	c.Value = nil
	return c
}

// Eq sets this condition to check for equality (=).
func (c *Condition) Eq(v any) *Condition {
	c.Operator = &OpEq
	c.Value = v
	return c
}

// Ne sets this condition to check for inequality (<>).
func (c *Condition) Ne(v any) *Condition {
	c.Operator = &OpNe
	c.Value = v
	return c
}

// Gt sets this condition to check for "greater than" (>).
func (c *Condition) Gt(v any) *Condition {
	c.Operator = &OpGt
	c.Value = v
	return c
}

// Gte sets this condition to check for "greater than or equal" (>=).
func (c *Condition) Gte(v any) *Condition {
	c.Operator = &OpGte
	c.Value = v
	return c
}

// Lt sets this condition to check for "less than" (<).
func (c *Condition) Lt(v any) *Condition {
	c.Operator = &OpLt
	c.Value = v
	return c
}

// Lte sets this condition to check for "less than or equal" (<=).
func (c *Condition) Lte(v any) *Condition {
	c.Operator = &OpLte
	c.Value = v
	return c
}

// Like sets this condition to perform a pattern match (SQL LIKE / regex equivalent).
func (c *Condition) Like(v any) *Condition {
	c.Operator = &OpLike
	c.Value = v
	return c
}

// In sets this condition to check whether the field value is contained in the provided list.
func (c *Condition) In(values ...any) *Condition {
	c.Operator = &OpIn
	c.Value = values
	return c
}

// IsRaw reports whether the node is a raw fragment.
func (c *Condition) IsRaw() bool {
	return c != nil && c.Operator != nil && *c.Operator == OpRaw
}

// IsGroup reports whether the node is a logical combinator.
func (c *Condition) IsGroup() bool {
	return c != nil && c.Operator != nil && c.Operator.IsLogical()
}

// HasPredicate reports whether the tree holds at least one leaf or raw
// fragment. Groups made only of empty groups match every row.
func (c *Condition) HasPredicate() bool {
	if c == nil {
		return false
	}
	if !c.IsGroup() {
		return true
	}
	for _, child := range c.Children {
		if child.HasPredicate() {
			return true
		}
	}
	return false
}

// Fields returns every field name referenced by leaf conditions, in tree order.
func (c *Condition) Fields() []string {
	if c == nil {
		return nil
	}
	if c.IsGroup() {
		var fieldList []string
		for _, child := range c.Children {
			fieldList = append(fieldList, child.Fields()...)
		}
		return fieldList
	}
	if c.IsRaw() {
		return nil
	}
	return []string{c.FieldName}
}

// newLeaf builds a validated leaf condition from a textual operator.
func newLeaf(column string, token string, value any) (*Condition, error) {
	if column == "" {
		return nil, fmt.Errorf("%w: empty column name", ErrInvalidArgument)
	}
	op, err := ParseOperator(token)
	if err != nil {
		return nil, &Error{Op: "where", Field: column, Err: err}
	}
	leaf := &Condition{FieldName: column, Operator: &op, Value: value}
	if op.TakesList() {
		listValue, ok := toValueList(value)
		if !ok {
			return nil, &Error{Op: "where", Field: column, Err: fmt.Errorf("%w: operator %q expects a list, got %T", ErrQueryCompilation, token, value)}
		}
		leaf.Value = listValue
	}
	return leaf, nil
}

// toValueList normalizes any slice or array into []any.
func toValueList(value any) ([]any, bool) {
	if list, ok := value.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}
