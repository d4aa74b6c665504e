// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the Model, which maps one entity type to one table or
// collection and declares its fields, casts, guarded fields and relations.
package core

import "fmt"

// AttrType is the semantic type of a model attribute. It drives casting on
// hydration and encoding on writes.
type AttrType string

const (
	AttrAny       AttrType = ""          // no cast, value kept as returned by the driver
	AttrString    AttrType = "string"    // text; byte slices and object ids become strings
	AttrNumber    AttrType = "number"    // normalized to int64 or float64
	AttrBoolean   AttrType = "boolean"   // bool, 0/1 and textual booleans
	AttrDate      AttrType = "date"      // time.Time from time values, strings or epoch seconds
	AttrJSON      AttrType = "json"      // structured value, stored as text by relational backends
	AttrEncrypted AttrType = "encrypted" // string encrypted at rest
)

// KeyType defines how primary keys are produced on insert.
type KeyType int

const (
	// KeyAuto lets the backend generate keys (serial columns, ObjectIDs).
	KeyAuto KeyType = iota
	// KeyUUID makes the engine generate a random UUID string before insert.
	KeyUUID
)

const (
	defaultPrimaryKey = "id"
	createdAtField    = "created_at"
	updatedAtField    = "updated_at"
)

// Field represents one declared attribute of a model.
type Field struct {
	Name            string   // Attribute/column name
	Type            AttrType // Cast applied on hydration and writes
	IsGuarded       bool     // Excluded from Record.Public output
	IsPrimaryKey    bool     // Whether this field is the primary key
	StructFieldName string   // Go struct field, set by ModelFor
}

// FieldOption is a function used to configure a Field.
type FieldOption func(*Field)

// Cast sets the semantic type of the field.
func Cast(attrType AttrType) FieldOption {
	return func(f *Field) { f.Type = attrType }
}

// Guarded marks the field as excluded from external-facing output.
func Guarded() FieldOption {
	return func(f *Field) { f.IsGuarded = true }
}

// PrimaryKey marks the field as the primary key.
func PrimaryKey() FieldOption {
	return func(f *Field) { f.IsPrimaryKey = true }
}

// Model is the declaration of an entity: where it lives and what shape it has.
//
// Models are immutable after Define returns, except for AddRelation, which
// exists so that mutually referencing models can be wired after both are defined.
type Model struct {
	Name       string
	Source     string
	Alias      string
	Connection string // default connection name; empty means the registry default
	PrimaryKey string
	KeyType    KeyType
	Timestamps bool
	Fields     []*Field
	Relations  []*Relation

	fieldsByName map[string]*Field
}

// ModelOption customizes a model under construction.
type ModelOption func(*Model)

// Named sets the model name used in errors and logs. Defaults to the source.
func Named(name string) ModelOption {
	return func(m *Model) { m.Name = name }
}

// Alias sets the alias used in FROM clauses.
func Alias(alias string) ModelOption {
	return func(m *Model) { m.Alias = alias }
}

// OnConnection binds the model to a named connection.
func OnConnection(name string) ModelOption {
	return func(m *Model) { m.Connection = name }
}

// Key overrides the primary-key attribute name (default "id").
func Key(name string) ModelOption {
	return func(m *Model) { m.PrimaryKey = name }
}

// UUIDKey makes the engine generate UUID primary keys on insert.
func UUIDKey() ModelOption {
	return func(m *Model) { m.KeyType = KeyUUID }
}

// WithTimestamps manages created_at and updated_at on insert and update.
func WithTimestamps() ModelOption {
	return func(m *Model) { m.Timestamps = true }
}

// Attribute declares a whitelisted field in declaration (and cast) order.
//
// Example:
//
//	users := core.Define("users",
//		core.Attribute("id"),
//		core.Attribute("name", core.Cast(core.AttrString)),
//		core.Attribute("settings", core.Cast(core.AttrJSON)),
//		core.Attribute("password", core.Cast(core.AttrEncrypted), core.Guarded()),
//	)
func Attribute(name string, options ...FieldOption) ModelOption {
	return func(m *Model) {
		field := &Field{Name: name}
		for _, option := range options {
			option(field)
		}
		m.addField(field)
	}
}

// Relate attaches a relationship descriptor at definition time.
func Relate(relation *Relation) ModelOption {
	return func(m *Model) { m.Relations = append(m.Relations, relation) }
}

// Define builds a Model for the given table/collection.
func Define(source string, options ...ModelOption) *Model {
	m := &Model{
		Source:       source,
		PrimaryKey:   defaultPrimaryKey,
		fieldsByName: make(map[string]*Field),
	}
	for _, option := range options {
		option(m)
	}
	m.finalize()
	return m
}

// finalize applies defaults once every option ran.
func (m *Model) finalize() {
	if m.Name == "" {
		m.Name = m.Source
	}
	for _, field := range m.Fields {
		if field.IsPrimaryKey {
			m.PrimaryKey = field.Name
		}
	}
	if len(m.Fields) == 0 {
		return
	}
	if _, ok := m.fieldsByName[m.PrimaryKey]; !ok {
		keyField := &Field{Name: m.PrimaryKey, IsPrimaryKey: true}
		if m.KeyType == KeyUUID {
			keyField.Type = AttrString
		}
		m.Fields = append([]*Field{keyField}, m.Fields...)
		m.fieldsByName[keyField.Name] = keyField
	}
	m.fieldsByName[m.PrimaryKey].IsPrimaryKey = true
	if m.Timestamps {
		for _, name := range []string{createdAtField, updatedAtField} {
			if _, ok := m.fieldsByName[name]; !ok {
				m.addField(&Field{Name: name, Type: AttrDate})
			}
		}
	}
}

func (m *Model) addField(field *Field) {
	if m.fieldsByName == nil {
		m.fieldsByName = make(map[string]*Field)
	}
	if existing, ok := m.fieldsByName[field.Name]; ok {
		*existing = *field
		return
	}
	m.Fields = append(m.Fields, field)
	m.fieldsByName[field.Name] = field
}

// AddRelation registers a relationship after the model was defined.
func (m *Model) AddRelation(relation *Relation) *Model {
	m.Relations = append(m.Relations, relation)
	return m
}

// Field returns the declared field with the given name.
func (m *Model) Field(name string) (*Field, bool) {
	field, ok := m.fieldsByName[name]
	return field, ok
}

// HasFields reports whether the model declares a whitelist. Models without
// fields accept and return every attribute.
func (m *Model) HasFields() bool {
	return len(m.Fields) > 0
}

// FieldNames returns the declared field names in declaration order.
func (m *Model) FieldNames() []string {
	nameList := make([]string, 0, len(m.Fields))
	for _, field := range m.Fields {
		nameList = append(nameList, field.Name)
	}
	return nameList
}

// Relation finds a registered relation by name.
func (m *Model) Relation(name string) (*Relation, bool) {
	for _, relation := range m.Relations {
		if relation.Name == name {
			return relation, true
		}
	}
	return nil, false
}

// source returns the IR source for this model.
func (m *Model) source() Source {
	return Source{Name: m.Source, Alias: m.Alias, Key: m.PrimaryKey}
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return fmt.Sprintf("Model(%s)", m.Name)
}
