// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the fluent Builder that accumulates a query for one
// model and executes it through a terminal call.
package core

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/google/uuid"
)

// InsertResult reports the outcome of Builder.Insert.
type InsertResult struct {
	Count int64
	IDs   []any
}

// UpdateResult reports the outcome of Builder.Update.
type UpdateResult struct {
	Count int64
}

// DeleteResult reports the outcome of Builder.Delete.
type DeleteResult struct {
	Count int64
}

// term is one top-level predicate of the builder. An OR term starts a new
// disjunct; consecutive AND terms bind tighter.
type term struct {
	or   bool
	cond *Condition
}

// Builder accumulates filters, ordering, pagination and projection for one
// model and executes them with a terminal call (Get, First, Count, Insert,
// Update, Delete, ...).
//
// Fluent calls never fail immediately: the first error is kept and returned
// by the terminal call. A builder executes once; use Clone to reuse its state.
//
// Example:
//
//	rows, err := engine.Query(users).
//		Where("age", ">", 18).
//		OrWhere("role", "=", "admin").
//		OrderBy("name").
//		Limit(10).
//		Get(ctx)
type Builder struct {
	engine     *Engine
	model      *Model
	connection string

	termList   []term
	sortList   []Sort
	limit      *int
	offset     *int
	projection []string
	unbounded  bool

	err      error
	executed bool
}

func newBuilder(engine *Engine, model *Model, connection string) *Builder {
	return &Builder{engine: engine, model: model, connection: connection}
}

//region fluent

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) push(or bool, cond *Condition) *Builder {
	if cond == nil {
		return b
	}
	b.termList = append(b.termList, term{or: or, cond: cond})
	return b
}

func (b *Builder) leaf(or bool, column, op string, value any) *Builder {
	cond, err := newLeaf(column, op, value)
	if err != nil {
		return b.fail(annotate(err, "where", b.model, b.connection))
	}
	return b.push(or, cond)
}

// Where adds a condition ANDed with the previous terms.
// Operators: =, !=, <>, >, >=, <, <=, like, not like, ilike, in, not in,
// is null, is not null.
func (b *Builder) Where(column string, op string, value any) *Builder {
	return b.leaf(false, column, op, value)
}

// OrWhere adds a condition that opens an OR branch at the current level.
func (b *Builder) OrWhere(column string, op string, value any) *Builder {
	return b.leaf(true, column, op, value)
}

// WhereCondition adds a prebuilt condition tree, ANDed with the previous terms.
func (b *Builder) WhereCondition(cond *Condition) *Builder {
	return b.push(false, cond)
}

// OrWhereCondition adds a prebuilt condition tree as an OR branch.
func (b *Builder) OrWhereCondition(cond *Condition) *Builder {
	return b.push(true, cond)
}

// WhereRaw adds a backend-specific fragment ANDed with the other terms.
// Relational connections take SQL with "?" markers bound to args; document
// connections take a filter document.
func (b *Builder) WhereRaw(fragment any, args ...any) *Builder {
	return b.push(false, NewRawCondition(fragment, args...))
}

// OrWhereRaw adds a backend-specific fragment as an OR branch.
func (b *Builder) OrWhereRaw(fragment any, args ...any) *Builder {
	return b.push(true, NewRawCondition(fragment, args...))
}

// WhereGroup adds a parenthesized group, ANDed with the previous terms.
func (b *Builder) WhereGroup(fn func(*Builder)) *Builder {
	return b.group(false, fn)
}

// OrWhereGroup adds a parenthesized group as an OR branch.
func (b *Builder) OrWhereGroup(fn func(*Builder)) *Builder {
	return b.group(true, fn)
}

func (b *Builder) group(or bool, fn func(*Builder)) *Builder {
	sub := newBuilder(b.engine, b.model, b.connection)
	fn(sub)
	if sub.err != nil {
		return b.fail(sub.err)
	}
	return b.push(or, sub.filter())
}

// WhereMap adds one equality condition per entry, in sorted key order.
// Nil values match NULL.
func (b *Builder) WhereMap(values map[string]any) *Builder {
	keyList := make([]string, 0, len(values))
	for key := range values {
		keyList = append(keyList, key)
	}
	sort.Strings(keyList)
	for _, key := range keyList {
		b.Where(key, "=", values[key])
	}
	return b
}

// WhereIn adds an IN condition. Values must be a slice or array.
func (b *Builder) WhereIn(column string, values any) *Builder {
	return b.Where(column, "in", values)
}

// WhereNotIn adds a NOT IN condition.
func (b *Builder) WhereNotIn(column string, values any) *Builder {
	return b.Where(column, "not in", values)
}

// WhereNull adds an IS NULL condition.
func (b *Builder) WhereNull(column string) *Builder {
	return b.Where(column, "is null", nil)
}

// WhereNotNull adds an IS NOT NULL condition.
func (b *Builder) WhereNotNull(column string) *Builder {
	return b.Where(column, "is not null", nil)
}

// OrderBy appends a sort rule. The direction is "asc" (default) or "desc".
func (b *Builder) OrderBy(column string, direction ...string) *Builder {
	if column == "" {
		return b.fail(annotate(fmt.Errorf("%w: empty order column", ErrInvalidArgument), "order_by", b.model, b.connection))
	}
	token := ""
	if len(direction) > 0 {
		token = direction[0]
	}
	dir, err := ParseDirection(token)
	if err != nil {
		return b.fail(&Error{Op: "order_by", Model: b.model.Name, Field: column, Err: err})
	}
	b.sortList = append(b.sortList, Sort{FieldName: column, Direction: dir})
	return b
}

// Limit sets the maximum number of records. The last call wins.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		return b.fail(&Error{Op: "limit", Model: b.model.Name, Err: fmt.Errorf("%w: negative limit %d", ErrInvalidArgument, n)})
	}
	b.limit = &n
	return b
}

// Offset sets the number of records to skip. The last call wins.
func (b *Builder) Offset(n int) *Builder {
	if n < 0 {
		return b.fail(&Error{Op: "offset", Model: b.model.Name, Err: fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, n)})
	}
	b.offset = &n
	return b
}

// Select restricts the returned fields. No call means all fields.
func (b *Builder) Select(columns ...string) *Builder {
	b.projection = append(b.projection, columns...)
	return b
}

// AllowUnbounded permits Update and Delete without any filter.
func (b *Builder) AllowUnbounded() *Builder {
	b.unbounded = true
	return b
}

// Clone returns an independent builder with the same accumulated state.
func (b *Builder) Clone() *Builder {
	c := &Builder{
		engine:     b.engine,
		model:      b.model,
		connection: b.connection,
		termList:   append([]term(nil), b.termList...),
		sortList:   append([]Sort(nil), b.sortList...),
		projection: append([]string(nil), b.projection...),
		unbounded:  b.unbounded,
		err:        b.err,
	}
	if b.limit != nil {
		n := *b.limit
		c.limit = &n
	}
	if b.offset != nil {
		n := *b.offset
		c.offset = &n
	}
	return c
}

// scoped clones the builder with its filter collapsed into one term, so that
// further Where calls AND with the whole filter rather than its last disjunct.
func (b *Builder) scoped() *Builder {
	c := b.Clone()
	if cond := b.filter(); cond != nil {
		c.termList = []term{{cond: cond}}
	}
	return c
}

//endregion

//region IR

// filter materializes the term buffer into a fresh predicate tree:
// consecutive AND terms form conjunctions and OR terms separate them.
func (b *Builder) filter() *Condition {
	if len(b.termList) == 0 {
		return nil
	}
	var disjunctList []*Condition
	var current []*Condition
	for _, t := range b.termList {
		if t.or && len(current) > 0 {
			disjunctList = append(disjunctList, conjunction(current))
			current = nil
		}
		current = append(current, t.cond)
	}
	disjunctList = append(disjunctList, conjunction(current))
	if len(disjunctList) == 1 {
		return disjunctList[0]
	}
	return &Condition{Operator: &OpOr, Children: disjunctList}
}

func conjunction(condList []*Condition) *Condition {
	if len(condList) == 1 {
		return condList[0]
	}
	return &Condition{Operator: &OpAnd, Children: append([]*Condition(nil), condList...)}
}

// ToQuery materializes the accumulated state into the IR for the given
// operation. Count queries drop ordering, pagination and projection.
func (b *Builder) ToQuery(op Operation) (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	query := &Query{
		Source:    b.model.source(),
		Filter:    b.filter(),
		Operation: op,
	}
	if op == OperationSelect {
		query.Sort = append([]Sort(nil), b.sortList...)
		query.Limit = b.limit
		query.Offset = b.offset
		query.Projection = append([]string(nil), b.projection...)
	}
	return query, nil
}

// Compile returns the backend form of the query without executing it.
func (b *Builder) Compile(ctx context.Context, op Operation) (Compiled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query, err := b.ToQuery(op)
	if err != nil {
		return nil, err
	}
	conn, err := b.engine.resolve(b.model, b.connection)
	if err != nil {
		return nil, err
	}
	return b.engine.compile(conn, b.model, query)
}

//endregion

//region terminal

// begin marks the builder as executed and surfaces any recorded error.
func (b *Builder) begin() error {
	if b.executed {
		return &Error{Op: "execute", Model: b.model.Name, Err: fmt.Errorf("%w: builder already executed", ErrInvalidArgument)}
	}
	b.executed = true
	return b.err
}

// Get runs the query and returns every matching record.
func (b *Builder) Get(ctx context.Context) ([]*Record, error) {
	if err := b.begin(); err != nil {
		return nil, err
	}
	return b.get(ctx)
}

func (b *Builder) get(ctx context.Context) ([]*Record, error) {
	conn, query, result, err := b.run(ctx, OperationSelect)
	if err != nil {
		return nil, err
	}
	recordList, err := b.engine.hydrator.HydrateAll(b.model, conn.Name(), result.Rows)
	if err != nil {
		return nil, err
	}
	b.engine.dispatcher.Emit(EventFind, FindPayload{Model: b.model, Connection: conn.Name(), Query: query, Records: recordList})
	return recordList, nil
}

// Iter runs the query on first iteration and hydrates records one at a time.
// Iteration stops after the first error. EventFind is emitted once every
// record was yielded; stopping early or failing emits nothing.
func (b *Builder) Iter(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		if err := b.begin(); err != nil {
			yield(nil, err)
			return
		}
		conn, query, result, err := b.run(ctx, OperationSelect)
		if err != nil {
			yield(nil, err)
			return
		}
		recordList := make([]*Record, 0, len(result.Rows))
		for _, row := range result.Rows {
			record, err := b.engine.hydrator.Hydrate(b.model, conn.Name(), row)
			if err != nil {
				yield(nil, err)
				return
			}
			recordList = append(recordList, record)
			if !yield(record, nil) {
				return
			}
		}
		b.engine.dispatcher.Emit(EventFind, FindPayload{Model: b.model, Connection: conn.Name(), Query: query, Records: recordList})
	}
}

// First returns the first matching record, or nil when nothing matches.
func (b *Builder) First(ctx context.Context) (*Record, error) {
	if err := b.begin(); err != nil {
		return nil, err
	}
	return b.Clone().Limit(1).first(ctx)
}

func (b *Builder) first(ctx context.Context) (*Record, error) {
	recordList, err := b.get(ctx)
	if err != nil || len(recordList) == 0 {
		return nil, err
	}
	return recordList[0], nil
}

// Find returns the record with the given primary key, or nil.
func (b *Builder) Find(ctx context.Context, id any) (*Record, error) {
	if err := b.begin(); err != nil {
		return nil, err
	}
	return b.scoped().Where(b.model.PrimaryKey, "=", id).Limit(1).first(ctx)
}

// FindOrFail is Find returning ErrNotFound when nothing matches.
func (b *Builder) FindOrFail(ctx context.Context, id any) (*Record, error) {
	record, err := b.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &Error{Op: "find", Model: b.model.Name, Connection: b.connection, Err: ErrNotFound}
	}
	return record, nil
}

// Count returns the number of matching records. Ordering, pagination and
// projection are ignored.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	if err := b.begin(); err != nil {
		return 0, err
	}
	_, _, result, err := b.run(ctx, OperationCount)
	if err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Exists reports whether at least one record matches.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	count, err := b.Count(ctx)
	return count > 0, err
}

// Insert creates one record per attribute bag in a single statement.
// Every bag must carry the same attribute names.
func (b *Builder) Insert(ctx context.Context, records ...Attributes) (InsertResult, error) {
	result, _, err := b.insert(ctx, records)
	return result, err
}

func (b *Builder) insert(ctx context.Context, records []Attributes) (InsertResult, []Attributes, error) {
	if err := b.begin(); err != nil {
		return InsertResult{}, nil, err
	}
	if len(records) == 0 {
		return InsertResult{}, nil, &Error{Op: "insert", Model: b.model.Name, Err: fmt.Errorf("%w: insert requires at least one record", ErrInvalidArgument)}
	}
	conn, err := b.engine.resolve(b.model, b.connection)
	if err != nil {
		return InsertResult{}, nil, err
	}

	now := b.engine.now().UTC()
	preparedList := make([]Attributes, 0, len(records))
	generatedList := make([]any, 0, len(records))
	for _, record := range records {
		prepared := record.Clone()
		if prepared == nil {
			prepared = Attributes{}
		}
		if b.model.KeyType == KeyUUID && prepared[b.model.PrimaryKey] == nil {
			prepared[b.model.PrimaryKey] = uuid.NewString()
		}
		if b.model.Timestamps {
			if _, ok := prepared[createdAtField]; !ok {
				prepared[createdAtField] = now
			}
			if _, ok := prepared[updatedAtField]; !ok {
				prepared[updatedAtField] = now
			}
		}
		generatedList = append(generatedList, prepared[b.model.PrimaryKey])
		preparedList = append(preparedList, prepared)
	}
	if field, ok := sameKeySet(preparedList); !ok {
		return InsertResult{}, nil, &Error{Op: "insert", Model: b.model.Name, Field: field, Connection: conn.Name(), Err: fmt.Errorf("%w: records do not share the same attribute set", ErrSchemaMismatch)}
	}

	payload := make([]Attributes, 0, len(preparedList))
	for _, prepared := range preparedList {
		encoded, err := b.encode(conn, "insert", prepared)
		if err != nil {
			return InsertResult{}, nil, err
		}
		payload = append(payload, encoded)
	}

	query := &Query{Source: b.model.source(), Operation: OperationInsert, Payload: payload}
	result, err := b.engine.execute(ctx, conn, b.model, query)
	if err != nil {
		return InsertResult{}, nil, err
	}

	out := InsertResult{Count: result.Count, IDs: result.IDs}
	if len(out.IDs) == 0 && generatedList[0] != nil {
		out.IDs = generatedList
	}
	if out.Count == 0 {
		out.Count = int64(len(payload))
	}
	b.engine.dispatcher.Emit(EventInsert, InsertPayload{Model: b.model, Connection: conn.Name(), Records: preparedList, IDs: out.IDs})
	return out, preparedList, nil
}

// Update applies the changes to every matching record. Without a filter it
// fails with ErrUnboundedMutation unless AllowUnbounded was called.
func (b *Builder) Update(ctx context.Context, changes Attributes) (UpdateResult, error) {
	result, _, err := b.update(ctx, changes)
	return result, err
}

func (b *Builder) update(ctx context.Context, changes Attributes) (UpdateResult, Attributes, error) {
	if err := b.begin(); err != nil {
		return UpdateResult{}, nil, err
	}
	query, err := b.ToQuery(OperationUpdate)
	if err != nil {
		return UpdateResult{}, nil, err
	}
	if !query.HasFilter() && !b.unbounded {
		return UpdateResult{}, nil, &Error{Op: "update", Model: b.model.Name, Connection: b.connection, Err: fmt.Errorf("%w: update without filter, call AllowUnbounded to permit it", ErrUnboundedMutation)}
	}
	if len(changes) == 0 {
		return UpdateResult{}, nil, &Error{Op: "update", Model: b.model.Name, Err: fmt.Errorf("%w: update requires at least one attribute", ErrInvalidArgument)}
	}
	conn, err := b.engine.resolve(b.model, b.connection)
	if err != nil {
		return UpdateResult{}, nil, err
	}

	prepared := changes.Clone()
	if b.model.Timestamps {
		if _, ok := prepared[updatedAtField]; !ok {
			prepared[updatedAtField] = b.engine.now().UTC()
		}
	}
	query.Changes, err = b.encode(conn, "update", prepared)
	if err != nil {
		return UpdateResult{}, nil, err
	}

	result, err := b.engine.execute(ctx, conn, b.model, query)
	if err != nil {
		return UpdateResult{}, nil, err
	}
	b.engine.dispatcher.Emit(EventUpdate, UpdatePayload{Model: b.model, Connection: conn.Name(), Filter: query.Filter, Changes: prepared, Count: result.Count})
	return UpdateResult{Count: result.Count}, prepared, nil
}

// Delete removes every matching record. Without a filter it fails with
// ErrUnboundedMutation unless AllowUnbounded was called.
func (b *Builder) Delete(ctx context.Context) (DeleteResult, error) {
	if err := b.begin(); err != nil {
		return DeleteResult{}, err
	}
	query, err := b.ToQuery(OperationDelete)
	if err != nil {
		return DeleteResult{}, err
	}
	if !query.HasFilter() && !b.unbounded {
		return DeleteResult{}, &Error{Op: "delete", Model: b.model.Name, Connection: b.connection, Err: fmt.Errorf("%w: delete without filter, call AllowUnbounded to permit it", ErrUnboundedMutation)}
	}
	conn, err := b.engine.resolve(b.model, b.connection)
	if err != nil {
		return DeleteResult{}, err
	}
	result, err := b.engine.execute(ctx, conn, b.model, query)
	if err != nil {
		return DeleteResult{}, err
	}
	b.engine.dispatcher.Emit(EventDelete, DeletePayload{Model: b.model, Connection: conn.Name(), Filter: query.Filter, Count: result.Count})
	return DeleteResult{Count: result.Count}, nil
}

// run resolves the connection, builds the IR and executes it.
func (b *Builder) run(ctx context.Context, op Operation) (Connection, *Query, *Result, error) {
	query, err := b.ToQuery(op)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := b.engine.resolve(b.model, b.connection)
	if err != nil {
		return nil, nil, nil, err
	}
	result, err := b.engine.execute(ctx, conn, b.model, query)
	if err != nil {
		return nil, nil, nil, err
	}
	return conn, query, result, nil
}

// encode rejects attributes the model does not declare and applies the
// write-side casts.
func (b *Builder) encode(conn Connection, op string, attributes Attributes) (Attributes, error) {
	if !b.model.HasFields() {
		return attributes.Clone(), nil
	}
	encoded := make(Attributes, len(attributes))
	for _, key := range attributes.Keys() {
		field, ok := b.model.Field(key)
		if !ok {
			return nil, &Error{Op: op, Model: b.model.Name, Field: key, Connection: conn.Name(), Err: fmt.Errorf("%w: unknown attribute", ErrSchemaMismatch)}
		}
		value, err := b.engine.caster.Encode(field, attributes[key], conn.Driver())
		if err != nil {
			return nil, &Error{Op: op, Model: b.model.Name, Field: key, Connection: conn.Name(), Err: fmt.Errorf("%w: %v", ErrInvalidArgument, err)}
		}
		encoded[key] = value
	}
	return encoded, nil
}

//endregion
