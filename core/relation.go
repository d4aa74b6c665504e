// Package core provides the fundamental building blocks of the golem ORM.
// This file defines relationship descriptors and their single-hop resolution.
package core

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RelationKind defines the cardinality of a relationship.
type RelationKind string

const (
	// RelationBelongsTo resolves to at most one related record: the local
	// record holds the key of the related one.
	RelationBelongsTo RelationKind = "belongs_to"
	// RelationHasMany resolves to zero or more related records holding the
	// local record's key.
	RelationHasMany RelationKind = "has_many"
)

// Relation describes a relationship from one model to another.
//
// Filters are extra equality constraints ANDed with the key match.
type Relation struct {
	Name       string
	Kind       RelationKind
	Model      *Model // related model
	LocalKey   string // attribute read from the local record
	ForeignKey string // attribute matched on the related model
	Filters    map[string]any
	Connection string // overrides the related model's connection
}

// BelongsTo declares a belongs-to relation. The foreign key defaults to the
// related model's primary key.
//
// Example:
//
//	posts.AddRelation(core.BelongsTo("author", users, "author_id", ""))
func BelongsTo(name string, related *Model, localKey, foreignKey string) *Relation {
	return &Relation{Name: name, Kind: RelationBelongsTo, Model: related, LocalKey: localKey, ForeignKey: foreignKey}
}

// HasMany declares a has-many relation. The local key defaults to the local
// model's primary key.
func HasMany(name string, related *Model, foreignKey, localKey string) *Relation {
	return &Relation{Name: name, Kind: RelationHasMany, Model: related, LocalKey: localKey, ForeignKey: foreignKey}
}

// Where adds equality filters applied on every resolution.
func (r *Relation) Where(filters map[string]any) *Relation {
	if r.Filters == nil {
		r.Filters = make(map[string]any, len(filters))
	}
	for key, value := range filters {
		r.Filters[key] = value
	}
	return r
}

// OnConnection pins the related lookups to a named connection.
func (r *Relation) OnConnection(name string) *Relation {
	r.Connection = name
	return r
}

func (r *Relation) localKey(record *Record) string {
	if r.LocalKey == "" {
		return record.Model().PrimaryKey
	}
	return r.LocalKey
}

func (r *Relation) foreignKey() string {
	if r.ForeignKey == "" {
		return r.Model.PrimaryKey
	}
	return r.ForeignKey
}

// lookup builds the related query for a record.
func (e *Engine) lookup(record *Record, relation *Relation) (*Builder, error) {
	localKey := relation.localKey(record)
	value := record.Get(localKey)
	if value == nil {
		return nil, &Error{Op: string(relation.Kind), Model: record.Model().Name, Field: localKey, Connection: record.Connection(), Err: fmt.Errorf("%w: relation %q", ErrMissingKey, relation.Name)}
	}
	connection := relation.Connection
	if connection == "" {
		connection = relation.Model.Connection
	}
	if connection == "" {
		connection = record.Connection()
	}
	return e.Query(relation.Model, connection).
		Where(relation.foreignKey(), "=", value).
		WhereMap(relation.Filters), nil
}

// BelongsTo resolves a belongs-to relation: nil when the key dangles,
// ErrMissingKey when the local key is unset.
func (e *Engine) BelongsTo(ctx context.Context, record *Record, relation *Relation) (*Record, error) {
	builder, err := e.lookup(record, relation)
	if err != nil {
		return nil, err
	}
	return builder.First(ctx)
}

// HasMany resolves a has-many relation, returning an empty slice on no match.
func (e *Engine) HasMany(ctx context.Context, record *Record, relation *Relation) ([]*Record, error) {
	builder, err := e.lookup(record, relation)
	if err != nil {
		return nil, err
	}
	recordList, err := builder.Get(ctx)
	if err != nil {
		return nil, err
	}
	if recordList == nil {
		recordList = []*Record{}
	}
	return recordList, nil
}

// Related resolves the named relation of the record's model and stores it
// on the record. The result is a *Record for belongs-to and []*Record for has-many.
func (e *Engine) Related(ctx context.Context, record *Record, name string) (any, error) {
	relation, ok := record.Model().Relation(name)
	if !ok {
		return nil, &Error{Op: "relation", Model: record.Model().Name, Field: name, Err: fmt.Errorf("%w: unknown relation", ErrInvalidArgument)}
	}
	switch relation.Kind {
	case RelationBelongsTo:
		related, err := e.BelongsTo(ctx, record, relation)
		if err != nil {
			return nil, err
		}
		record.setRelation(name, related)
		return related, nil
	case RelationHasMany:
		relatedList, err := e.HasMany(ctx, record, relation)
		if err != nil {
			return nil, err
		}
		record.setRelation(name, relatedList)
		return relatedList, nil
	}
	return nil, &Error{Op: "relation", Model: record.Model().Name, Field: name, Err: fmt.Errorf("%w: relation kind %q", ErrUnsupportedOperation, relation.Kind)}
}

// Load resolves the named relations for every record concurrently and
// stores them on the records. A belongs-to relation whose local key is
// unset loads as nil.
func (e *Engine) Load(ctx context.Context, recordList []*Record, nameList ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.loadConcurrency)
	for _, record := range recordList {
		for _, name := range nameList {
			g.Go(func() error {
				_, err := e.Related(ctx, record, name)
				if errors.Is(err, ErrMissingKey) {
					if relation, ok := record.Model().Relation(name); ok && relation.Kind == RelationBelongsTo {
						record.setRelation(name, (*Record)(nil))
						return nil
					}
				}
				return err
			})
		}
	}
	return g.Wait()
}
