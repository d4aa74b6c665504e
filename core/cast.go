// Package core provides the fundamental building blocks of the golem ORM.
// This file implements attribute casting: decoding raw backend values into
// the shapes declared by a model and encoding them back for writes.
package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// timeLayoutList holds the textual date layouts accepted by AttrDate, tried in order.
var timeLayoutList = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Caster converts attribute values between their raw backend form and the
// form declared by the model's AttrType.
type Caster struct {
	encrypter *Encrypter
}

// NewCaster creates a caster. The encrypter may be nil when no model uses
// AttrEncrypted.
func NewCaster(encrypter *Encrypter) *Caster {
	return &Caster{encrypter: encrypter}
}

// Decode casts a raw value read from a backend. Nil stays nil for every type.
func (c *Caster) Decode(field *Field, value any) (any, error) {
	value = unwrapValuer(value)
	if value == nil {
		return nil, nil
	}
	switch field.Type {
	case AttrAny:
		if b, ok := value.([]byte); ok {
			return string(b), nil
		}
		return value, nil
	case AttrString:
		return castString(value)
	case AttrNumber:
		return castNumber(value)
	case AttrBoolean:
		return castBoolean(value)
	case AttrDate:
		return castDate(value)
	case AttrJSON:
		return castJSON(value)
	case AttrEncrypted:
		if c.encrypter == nil {
			return nil, fmt.Errorf("%w: no encryption key configured", ErrInvalidArgument)
		}
		ciphertext, err := castString(value)
		if err != nil {
			return nil, err
		}
		return c.encrypter.Decrypt(field.Name, ciphertext.(string))
	}
	return nil, fmt.Errorf("%w: unknown attribute type %q", ErrInvalidArgument, field.Type)
}

// Encode prepares a value for a write on a connection of the given kind.
//
// JSON becomes text for relational connections and stays structured for
// document connections. Encrypted values are sealed and dates are stored in UTC.
func (c *Caster) Encode(field *Field, value any, kind DriverKind) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch field.Type {
	case AttrAny:
		return value, nil
	case AttrString:
		return castString(value)
	case AttrNumber:
		return castNumber(value)
	case AttrBoolean:
		return castBoolean(value)
	case AttrDate:
		t, err := castDate(value)
		if err != nil {
			return nil, err
		}
		return t.(time.Time).UTC(), nil
	case AttrJSON:
		structured, err := castJSON(value)
		if err != nil {
			return nil, err
		}
		if kind == Document {
			return structured, nil
		}
		text, err := json.Marshal(structured)
		if err != nil {
			return nil, err
		}
		return string(text), nil
	case AttrEncrypted:
		if c.encrypter == nil {
			return nil, fmt.Errorf("%w: no encryption key configured", ErrInvalidArgument)
		}
		plaintext, err := castString(value)
		if err != nil {
			return nil, err
		}
		return c.encrypter.Encrypt(field.Name, plaintext.(string))
	}
	return nil, fmt.Errorf("%w: unknown attribute type %q", ErrInvalidArgument, field.Type)
}

// unwrapValuer resolves driver.Valuer implementations (pgtype values, sql.Null*)
// into their plain representation.
func unwrapValuer(value any) any {
	if valuer, ok := value.(driver.Valuer); ok {
		if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil
		}
		plain, err := valuer.Value()
		if err == nil {
			return plain
		}
	}
	return value
}

func castString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case interface{ Hex() string }:
		return v.Hex(), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("cannot cast %T to string", value)
}

func castNumber(value any) (any, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	case json.Number:
		text = v.String()
	default:
		return nil, fmt.Errorf("cannot cast %T to number", value)
	}
	text = strings.TrimSpace(text)
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %q to number", text)
	}
	return f, nil
}

func castBoolean(value any) (any, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	if n, err := castNumber(value); err == nil {
		switch v := n.(type) {
		case int64:
			return v != 0, nil
		case float64:
			return v != 0, nil
		}
	}
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return nil, fmt.Errorf("cannot cast %T to boolean", value)
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "t", "true", "y", "yes", "on":
		return true, nil
	case "f", "false", "n", "no", "off":
		return false, nil
	}
	return nil, fmt.Errorf("cannot cast %q to boolean", text)
}

func castDate(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		return *v, nil
	case interface{ Time() time.Time }:
		return v.Time(), nil
	case []byte:
		return parseTime(string(v))
	case string:
		return parseTime(v)
	}
	n, err := castNumber(value)
	if err != nil {
		return nil, fmt.Errorf("cannot cast %T to date", value)
	}
	switch v := n.(type) {
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	return nil, fmt.Errorf("cannot cast %T to date", value)
}

func parseTime(text string) (any, error) {
	text = strings.TrimSpace(text)
	for _, layout := range timeLayoutList {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	if epoch, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	return nil, fmt.Errorf("cannot parse %q as date", text)
}

// castJSON returns the canonical structured form of a JSON attribute: objects
// become map[string]any, arrays []any and numbers float64, whichever backend
// produced the value.
func castJSON(value any) (any, error) {
	var text []byte
	switch v := value.(type) {
	case string:
		text = []byte(v)
	case []byte:
		text = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as json: %w", value, err)
		}
		text = encoded
	}
	var out any
	if err := json.Unmarshal(text, &out); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}
