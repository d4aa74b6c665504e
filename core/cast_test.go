package core

import (
	"database/sql"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hexID string

func (h hexID) Hex() string { return string(h) }

func TestCaster_Decode(t *testing.T) {
	moment := time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name     string
		attrType AttrType
		value    any
		want     any
	}{
		{name: "any keeps value", attrType: AttrAny, value: int64(3), want: int64(3)},
		{name: "any bytes become string", attrType: AttrAny, value: []byte("x"), want: "x"},
		{name: "nil stays nil", attrType: AttrNumber, value: nil, want: nil},
		{name: "string from bytes", attrType: AttrString, value: []byte("abc"), want: "abc"},
		{name: "string from hex id", attrType: AttrString, value: hexID("65f0a1"), want: "65f0a1"},
		{name: "string from int", attrType: AttrString, value: 12, want: "12"},
		{name: "number from int32", attrType: AttrNumber, value: int32(7), want: int64(7)},
		{name: "number from text", attrType: AttrNumber, value: "42", want: int64(42)},
		{name: "number from float text", attrType: AttrNumber, value: []byte("1.5"), want: 1.5},
		{name: "number from float32", attrType: AttrNumber, value: float32(2), want: float64(2)},
		{name: "boolean from int", attrType: AttrBoolean, value: int64(1), want: true},
		{name: "boolean from t", attrType: AttrBoolean, value: "t", want: true},
		{name: "boolean from no", attrType: AttrBoolean, value: "no", want: false},
		{name: "date from rfc3339", attrType: AttrDate, value: "2024-03-09T10:30:00Z", want: moment},
		{name: "date from sql text", attrType: AttrDate, value: "2024-03-09 10:30:00", want: moment},
		{name: "date from day", attrType: AttrDate, value: "2024-03-09", want: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)},
		{name: "date from epoch", attrType: AttrDate, value: moment.Unix(), want: moment},
		{name: "json from text", attrType: AttrJSON, value: `{"a":[1,"b"]}`, want: map[string]any{"a": []any{float64(1), "b"}}},
		{name: "json from structure", attrType: AttrJSON, value: map[string]any{"n": 1}, want: map[string]any{"n": float64(1)}},
		{name: "valuer unwrapped", attrType: AttrString, value: sql.NullString{String: "v", Valid: true}, want: "v"},
		{name: "null valuer", attrType: AttrString, value: sql.NullString{}, want: nil},
	}

	caster := NewCaster(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := caster.Decode(&Field{Name: "f", Type: tt.attrType}, tt.value)
			require.NoError(t, err)
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)), "got %v", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCaster_DecodeFailures(t *testing.T) {
	tests := []struct {
		name     string
		attrType AttrType
		value    any
	}{
		{name: "number", attrType: AttrNumber, value: "abc"},
		{name: "boolean", attrType: AttrBoolean, value: "maybe"},
		{name: "date", attrType: AttrDate, value: "yesterday"},
		{name: "json", attrType: AttrJSON, value: "{not json"},
		{name: "string", attrType: AttrString, value: struct{}{}},
		{name: "encrypted without key", attrType: AttrEncrypted, value: "v1:xx"},
		{name: "unknown type", attrType: "money", value: 1},
	}

	caster := NewCaster(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := caster.Decode(&Field{Name: "f", Type: tt.attrType}, tt.value)
			assert.Error(t, err)
		})
	}
}

func TestCaster_Encode(t *testing.T) {
	caster := NewCaster(nil)
	jsonField := &Field{Name: "settings", Type: AttrJSON}

	relational, err := caster.Encode(jsonField, map[string]any{"theme": "dark"}, Relational)
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"dark"}`, relational)

	document, err := caster.Encode(jsonField, map[string]any{"theme": "dark"}, Document)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, document)

	local := time.Date(2024, 1, 1, 9, 0, 0, 0, time.FixedZone("plus2", 7200))
	date, err := caster.Encode(&Field{Name: "at", Type: AttrDate}, local, Relational)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, date.(time.Time).Location())
	assert.True(t, local.Equal(date.(time.Time)))

	nothing, err := caster.Encode(jsonField, nil, Relational)
	require.NoError(t, err)
	assert.Nil(t, nothing)
}

func TestCaster_EncryptedRoundTrip(t *testing.T) {
	encrypter, err := NewEncrypter([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	caster := NewCaster(encrypter)
	field := &Field{Name: "ssn", Type: AttrEncrypted}

	sealed, err := caster.Encode(field, "123-45-6789", Relational)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed.(string), "v1:"))
	assert.NotContains(t, sealed.(string), "123-45-6789")

	opened, err := caster.Decode(field, sealed)
	require.NoError(t, err)
	assert.Equal(t, "123-45-6789", opened)
}

func TestEncrypter(t *testing.T) {
	key := []byte(strings.Repeat("s", 32))
	encrypter, err := NewEncrypterFromBase64(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	first, err := encrypter.Encrypt("email", "a@b.c")
	require.NoError(t, err)
	second, err := encrypter.Encrypt("email", "a@b.c")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "nonces must differ")

	plaintext, err := encrypter.Decrypt("email", first)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", plaintext)

	_, err = encrypter.Decrypt("phone", first)
	assert.ErrorIs(t, err, ErrInvalidCiphertext, "attribute name is bound as additional data")

	_, err = encrypter.Decrypt("email", "a@b.c")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = NewEncrypter([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewEncrypterFromBase64("!!!")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
