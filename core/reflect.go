// Package core provides the fundamental building blocks of the golem ORM.
// This file contains the reflection helpers that derive models from Go
// structs and map attribute bags into struct values.
package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	rawJSONType  = reflect.TypeOf(json.RawMessage{})
	byteListType = reflect.TypeOf([]byte{})
)

// ModelFor derives a Model from the exported fields of struct T.
//
// The column name comes from the `db` tag (default: the Go field name; "-"
// skips the field). The attribute type comes from the Go type, and the
// `golem` tag accepts the options "pk", "guarded" and "encrypted".
//
// Example:
//
//	type User struct {
//		ID       int64          `db:"id" golem:"pk"`
//		Name     string         `db:"name"`
//		Password string         `db:"password" golem:"guarded,encrypted"`
//		Settings map[string]any `db:"settings"`
//	}
//
//	users := core.ModelFor[User]("users", core.WithTimestamps())
func ModelFor[T any](source string, options ...ModelOption) *Model {
	var zero T
	structType := reflect.TypeOf(zero)
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		panic(fmt.Sprintf("core: ModelFor requires a struct type, got %s", structType))
	}

	fieldOptionList := []ModelOption{}
	for _, sf := range reflect.VisibleFields(structType) {
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		dbName := sf.Tag.Get("db")
		if dbName == "-" {
			continue
		}
		if dbName == "" {
			dbName = sf.Name
		}
		structFieldName := sf.Name
		attrType := attrTypeOf(sf.Type)
		guarded, primary := false, false
		for _, flag := range strings.Split(sf.Tag.Get("golem"), ",") {
			switch strings.TrimSpace(flag) {
			case "pk":
				primary = true
			case "guarded":
				guarded = true
			case "encrypted":
				attrType = AttrEncrypted
			}
		}
		fieldOptionList = append(fieldOptionList, func(m *Model) {
			m.addField(&Field{
				Name:            dbName,
				Type:            attrType,
				IsGuarded:       guarded,
				IsPrimaryKey:    primary,
				StructFieldName: structFieldName,
			})
		})
	}

	return Define(source, append(fieldOptionList, options...)...)
}

// attrTypeOf maps a Go type to the attribute type used for casting.
func attrTypeOf(t reflect.Type) AttrType {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return AttrDate
	}
	if t == rawJSONType {
		return AttrJSON
	}
	if t == byteListType {
		return AttrAny
	}
	switch t.Kind() {
	case reflect.String:
		return AttrString
	case reflect.Bool:
		return AttrBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return AttrNumber
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return AttrJSON
	}
	return AttrAny
}

// DecodeAll converts hydrated records into values of type T.
func DecodeAll[T any](recordList []*Record) ([]T, error) {
	out := make([]T, 0, len(recordList))
	for _, record := range recordList {
		var item T
		if err := record.Decode(&item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// AttributesOf extracts the attribute bag of a struct according to a model.
// Struct fields are matched by StructFieldName first, then case-insensitively
// by column name. Nil pointers become nil values. Zero primary keys are
// omitted so the backend (or the UUID generator) can assign them.
func AttributesOf(model *Model, doc any) (Attributes, error) {
	value := reflect.ValueOf(doc)
	if value.Kind() == reflect.Pointer {
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: expected struct, got %T", ErrInvalidArgument, doc)
	}
	attributes := Attributes{}
	for _, field := range model.Fields {
		fv := structField(value, field)
		if !fv.IsValid() {
			continue
		}
		if field.IsPrimaryKey && fv.IsZero() {
			continue
		}
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				attributes[field.Name] = nil
				continue
			}
			fv = fv.Elem()
		}
		attributes[field.Name] = fv.Interface()
	}
	return attributes, nil
}

func structField(value reflect.Value, field *Field) reflect.Value {
	if field.StructFieldName != "" {
		return value.FieldByName(field.StructFieldName)
	}
	return value.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, field.Name) })
}

// mapToStruct maps an attribute bag into the struct pointed to by out.
//
// Keys are matched against the `db` tag first, then the field name
// case-insensitively. Assignment supports:
//  1. Exact type matching
//  2. Value → pointer conversions (e.g. time.Time → *time.Time)
//  3. Pointer → value conversions (e.g. *time.Time → time.Time)
//  4. Convertible types (e.g. int64 → int32)
//  5. Structured JSON values into structs, maps and slices
func mapToStruct(row map[string]any, out any) error {
	pointer := reflect.ValueOf(out)
	if pointer.Kind() != reflect.Pointer || pointer.IsNil() || pointer.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: decode target must be a non-nil struct pointer, got %T", ErrInvalidArgument, out)
	}
	value := pointer.Elem()
	tagIndex := map[string]int{}
	for i := 0; i < value.NumField(); i++ {
		if tag := value.Type().Field(i).Tag.Get("db"); tag != "" && tag != "-" {
			tagIndex[tag] = i
		}
	}

	for rowKey, rowValue := range row {
		var field reflect.Value
		if i, ok := tagIndex[rowKey]; ok {
			field = value.Field(i)
		} else {
			field = value.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, rowKey) })
		}
		if !field.IsValid() || !field.CanSet() {
			continue
		}

		if rowValue == nil {
			field.Set(reflect.Zero(field.Type()))
			continue
		}

		rv := reflect.ValueOf(rowValue)

		// 1) exact type match
		if rv.Type().AssignableTo(field.Type()) {
			field.Set(rv)
			continue
		}

		// 2) value → pointer
		if field.Kind() == reflect.Pointer && rv.Type().AssignableTo(field.Type().Elem()) {
			ptr := reflect.New(field.Type().Elem())
			ptr.Elem().Set(rv)
			field.Set(ptr)
			continue
		}

		// 3) pointer → value
		if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Type().Elem().AssignableTo(field.Type()) {
			field.Set(rv.Elem())
			continue
		}

		// 4) convertible types, excluding number → string conversions
		if convertible(rv.Type(), field.Type()) {
			field.Set(rv.Convert(field.Type()))
			continue
		}
		if field.Kind() == reflect.Pointer && convertible(rv.Type(), field.Type().Elem()) {
			ptr := reflect.New(field.Type().Elem())
			ptr.Elem().Set(rv.Convert(field.Type().Elem()))
			field.Set(ptr)
			continue
		}

		// 5) structured values through a JSON round-trip
		switch rv.Kind() {
		case reflect.Map, reflect.Slice:
			encoded, err := json.Marshal(rowValue)
			if err != nil {
				return &Error{Op: "decode", Field: rowKey, Err: err}
			}
			if err := json.Unmarshal(encoded, field.Addr().Interface()); err != nil {
				return &Error{Op: "decode", Field: rowKey, Err: err}
			}
			continue
		}

		return &Error{Op: "decode", Field: rowKey, Err: fmt.Errorf("%w: cannot assign %T to %s", ErrInvalidArgument, rowValue, field.Type())}
	}
	return nil
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	if to.Kind() == reflect.String && from.Kind() != reflect.String {
		return false
	}
	return true
}
