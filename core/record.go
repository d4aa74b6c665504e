// Package core provides the fundamental building blocks of the golem ORM.
// This file defines Record, the model instance returned by every read and
// accepted by Engine.Save.
package core

import (
	"reflect"
	"sort"
	"sync"
	"time"
)

// Record is one instance of a model: a mutable attribute bag plus the
// snapshot taken when it was last hydrated or persisted.
//
// A Record is safe for concurrent reads; writers (Set, relation loading)
// take an exclusive lock.
type Record struct {
	mutex      sync.RWMutex
	model      *Model
	connection string
	attributes Attributes
	original   Attributes
	exists     bool
	relations  map[string]any
}

// newRecord creates a record. When exists is true the attributes are also
// the original snapshot.
func newRecord(model *Model, connection string, attributes Attributes, exists bool) *Record {
	record := &Record{
		model:      model,
		connection: connection,
		attributes: attributes,
		original:   Attributes{},
		exists:     exists,
	}
	if exists {
		record.original = attributes.Clone()
	}
	return record
}

// Model returns the model this record belongs to.
func (r *Record) Model() *Model {
	return r.model
}

// Connection returns the name of the connection the record was read from
// (or will be written to).
func (r *Record) Connection() string {
	return r.connection
}

// Get returns a single attribute value.
func (r *Record) Get(name string) any {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.attributes[name]
}

// Has reports whether the attribute is present, even with a nil value.
func (r *Record) Has(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.attributes[name]
	return ok
}

// Set assigns one attribute value.
func (r *Record) Set(name string, value any) *Record {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.attributes[name] = value
	return r
}

// Fill assigns every attribute of the given bag.
func (r *Record) Fill(attributes Attributes) *Record {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for key, value := range attributes {
		r.attributes[key] = value
	}
	return r
}

// Attributes returns a copy of the current attribute bag.
func (r *Record) Attributes() Attributes {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.attributes.Clone()
}

// Original returns a copy of the snapshot taken at the last hydrate or persist.
func (r *Record) Original() Attributes {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.original.Clone()
}

// Dirty returns the attributes whose value differs from the original snapshot.
func (r *Record) Dirty() Attributes {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return Diff(r.original, r.attributes)
}

// IsDirty reports whether any attribute changed since the last snapshot.
func (r *Record) IsDirty() bool {
	return len(r.Dirty()) > 0
}

// Key returns the primary-key value, or nil when unset.
func (r *Record) Key() any {
	return r.Get(r.model.PrimaryKey)
}

// Exists reports whether the record was read from, or persisted to, a backend.
func (r *Record) Exists() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.exists
}

// Public returns the attributes with guarded fields removed. It is the only
// place guarded fields are stripped; Get and Attributes still expose them.
func (r *Record) Public() map[string]any {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make(map[string]any, len(r.attributes))
	for key, value := range r.attributes {
		if field, ok := r.model.Field(key); ok && field.IsGuarded {
			continue
		}
		out[key] = value
	}
	return out
}

// Decode copies the attributes into the struct pointed to by out.
func (r *Record) Decode(out any) error {
	if err := mapToStruct(r.Attributes(), out); err != nil {
		if e, ok := err.(*Error); ok && e.Model == "" {
			e.Model = r.model.Name
		}
		return err
	}
	return nil
}

// Relation returns a loaded relation: *Record (or nil) for belongs-to,
// []*Record for has-many. The second result is false when it was never loaded.
func (r *Record) Relation(name string) (any, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	value, ok := r.relations[name]
	return value, ok
}

// RelationNames returns the names of the loaded relations, sorted.
func (r *Record) RelationNames() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	nameList := make([]string, 0, len(r.relations))
	for name := range r.relations {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)
	return nameList
}

func (r *Record) setRelation(name string, value any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.relations == nil {
		r.relations = make(map[string]any)
	}
	r.relations[name] = value
}

// sync marks the record as persisted and takes a new snapshot.
func (r *Record) sync() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.exists = true
	r.original = r.attributes.Clone()
}

// Diff returns the entries of current that are missing from, or differ
// from, original. Time values are compared with time.Time.Equal.
func Diff(original, current Attributes) Attributes {
	dirty := Attributes{}
	for key, value := range current {
		before, ok := original[key]
		if !ok || !equalValue(before, value) {
			dirty[key] = value
		}
	}
	return dirty
}

func equalValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
