// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the Hydrator, which turns raw backend rows into records
// holding only the fields a model declares.
package core

import "fmt"

// Hydrator turns raw rows or documents into Records shaped by a model.
type Hydrator struct {
	caster *Caster
}

// NewHydrator creates a hydrator that casts through the given caster.
func NewHydrator(caster *Caster) *Hydrator {
	if caster == nil {
		caster = NewCaster(nil)
	}
	return &Hydrator{caster: caster}
}

// Hydrate builds a Record from one raw row.
//
// When the model declares fields only those are copied, in declaration
// order, and each one is cast to its AttrType. Any cast failure aborts the
// whole record with ErrHydration naming the field.
func (h *Hydrator) Hydrate(model *Model, connection string, raw map[string]any) (*Record, error) {
	attributes := make(Attributes, len(raw))
	if !model.HasFields() {
		for key, value := range raw {
			decoded, err := h.caster.Decode(&Field{Name: key}, value)
			if err != nil {
				return nil, hydrationError(model, connection, key, err)
			}
			attributes[key] = decoded
		}
		return newRecord(model, connection, attributes, true), nil
	}
	for _, field := range model.Fields {
		value, ok := raw[field.Name]
		if !ok {
			continue
		}
		decoded, err := h.caster.Decode(field, value)
		if err != nil {
			return nil, hydrationError(model, connection, field.Name, err)
		}
		attributes[field.Name] = decoded
	}
	return newRecord(model, connection, attributes, true), nil
}

// HydrateAll hydrates every row, stopping at the first failure.
func (h *Hydrator) HydrateAll(model *Model, connection string, rowList []map[string]any) ([]*Record, error) {
	recordList := make([]*Record, 0, len(rowList))
	for _, row := range rowList {
		record, err := h.Hydrate(model, connection, row)
		if err != nil {
			return nil, err
		}
		recordList = append(recordList, record)
	}
	return recordList, nil
}

func hydrationError(model *Model, connection, field string, err error) error {
	return &Error{
		Op:         "hydrate",
		Model:      model.Name,
		Field:      field,
		Connection: connection,
		Err:        fmt.Errorf("%w: %v", ErrHydration, err),
	}
}
