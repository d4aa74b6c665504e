// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the set of supported operators used in query conditions.
package core

import (
	"fmt"
	"strings"
)

// Operator represents a comparison or logical operator used in a query condition.
//
// Operators can be logical (AND, OR, NOT), value-based (EQ, GT, IN, etc.)
// or RAW, which marks a backend-specific fragment injected verbatim.
type Operator string

const (
	// Logical operators
	opAnd Operator = "AND"
	opOr  Operator = "OR"
	opNot Operator = "NOT"

	// Value-based operators
	opNil     Operator = "NIL"     // field IS NULL
	opNotNil  Operator = "NOTNIL"  // field IS NOT NULL
	opEq      Operator = "EQ"      // field = value
	opNe      Operator = "NE"      // field <> value
	opGt      Operator = "GT"      // field > value
	opGte     Operator = "GTE"     // field >= value
	opLt      Operator = "LT"      // field < value
	opLte     Operator = "LTE"     // field <= value
	opLike    Operator = "LIKE"    // field LIKE pattern (SQL) or anchored regex (documents)
	opNotLike Operator = "NOTLIKE" // field NOT LIKE pattern
	opILike   Operator = "ILIKE"   // case-insensitive LIKE
	opIn      Operator = "IN"      // field IN (value list)
	opNotIn   Operator = "NOTIN"   // field NOT IN (value list)

	// Escape hatch
	opRaw Operator = "RAW" // backend-specific fragment, never validated
)

// Public operator aliases exposed to users of the ORM.
//
// These variables reference the internal constants and are intended
// to be used when constructing conditions programmatically.
//
// Example:
//
//	cond := &core.Condition{FieldName: "age", Operator: &core.OpGt, Value: 18}
var (
	OpAnd     = opAnd
	OpOr      = opOr
	OpNot     = opNot
	OpNil     = opNil
	OpNotNil  = opNotNil
	OpEq      = opEq
	OpNe      = opNe
	OpGt      = opGt
	OpGte     = opGte
	OpLt      = opLt
	OpLte     = opLte
	OpLike    = opLike
	OpNotLike = opNotLike
	OpILike   = opILike
	OpIn      = opIn
	OpNotIn   = opNotIn
	OpRaw     = opRaw
)

// operatorTokenList maps the textual operators accepted by Builder.Where
// to their Operator constant. Tokens are matched case-insensitively after
// collapsing inner whitespace.
var operatorTokenList = map[string]Operator{
	"=":           opEq,
	"==":          opEq,
	"!=":          opNe,
	"<>":          opNe,
	">":           opGt,
	">=":          opGte,
	"<":           opLt,
	"<=":          opLte,
	"like":        opLike,
	"not like":    opNotLike,
	"ilike":       opILike,
	"in":          opIn,
	"not in":      opNotIn,
	"null":        opNil,
	"is null":     opNil,
	"not null":    opNotNil,
	"is not null": opNotNil,
}

// ParseOperator converts a textual operator ("=", ">=", "not in", ...) into
// an Operator. Unknown tokens fail with ErrQueryCompilation.
func ParseOperator(token string) (Operator, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(token), " "))
	if op, ok := operatorTokenList[normalized]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: unsupported operator %q", ErrQueryCompilation, token)
}

// IsLogical reports whether the operator combines child conditions.
func (o Operator) IsLogical() bool {
	return o == opAnd || o == opOr || o == opNot
}

// TakesList reports whether the operator compares against a list of values.
func (o Operator) TakesList() bool {
	return o == opIn || o == opNotIn
}

// TakesValue reports whether the operator needs a comparison value.
func (o Operator) TakesValue() bool {
	return !o.IsLogical() && o != opNil && o != opNotNil && o != opRaw
}
