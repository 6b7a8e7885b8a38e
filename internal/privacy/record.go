package privacy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
)

var (
	// ErrNotObject is returned when a payload does not decode into a JSON object
	ErrNotObject = errors.New("record payload is not a JSON object")
	// ErrUnsupportedValue is returned for field values that are not string, number or null
	ErrUnsupportedValue = errors.New("unsupported field value")
)

var integerLiteral = regexp.MustCompile(`^-?\d+$`)

// ValueType identifies the scalar type held by a Value
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeString
	TypeNumber
)

// Value is a scalar record value: a string, a number or null.
// Numbers keep their literal so they re-encode exactly as received.
type Value struct {
	typ ValueType
	raw string
}

// Null returns the null value
func Null() Value { return Value{typ: TypeNull} }

// String wraps a string value
func String(s string) Value { return Value{typ: TypeString, raw: s} }

// Number wraps a JSON number literal
func Number(n json.Number) Value { return Value{typ: TypeNumber, raw: string(n)} }

// Type returns the scalar type of the value
func (v Value) Type() ValueType { return v.typ }

// IsNull reports whether the value is null
func (v Value) IsNull() bool { return v.typ == TypeNull }

// Raw returns the string contents or the number literal as received
func (v Value) Raw() string { return v.raw }

// Text returns the normalized textual form every recognizer sees.
// Strings pass through; numbers are rendered in canonical decimal form
// without trailing fractional zeros. Null yields the empty string.
func (v Value) Text() string {
	switch v.typ {
	case TypeString:
		return v.raw
	case TypeNumber:
		return canonicalNumber(v.raw)
	default:
		return ""
	}
}

// IsEmpty reports whether the value carries nothing: null, the empty string, or numeric zero
func (v Value) IsEmpty() bool {
	switch v.typ {
	case TypeString:
		return v.raw == ""
	case TypeNumber:
		f, err := strconv.ParseFloat(v.raw, 64)
		return err == nil && f == 0
	default:
		return true
	}
}

// Equal reports whether two values have the same type and contents
func (v Value) Equal(other Value) bool {
	return v.typ == other.typ && v.raw == other.raw
}

// MarshalJSON encodes the value as a JSON scalar
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeString:
		return marshalString(v.raw)
	case TypeNumber:
		return []byte(v.raw), nil
	default:
		return []byte("null"), nil
	}
}

func canonicalNumber(literal string) string {
	if integerLiteral.MatchString(literal) {
		return literal
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return literal
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Field is a single named value of a record
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered mapping of field names to scalar values
type Record struct {
	Fields []Field
}

// NewRecord builds a record from fields in order. A repeated name replaces
// the earlier value in place.
func NewRecord(fields ...Field) Record {
	rec := Record{Fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		if i := rec.index(f.Name); i >= 0 {
			rec.Fields[i].Value = f.Value
			continue
		}
		rec.Fields = append(rec.Fields, f)
	}
	return rec
}

// Len returns the number of fields
func (r Record) Len() int { return len(r.Fields) }

// Get returns the value stored under name
func (r Record) Get(name string) (Value, bool) {
	if i := r.index(name); i >= 0 {
		return r.Fields[i].Value, true
	}
	return Value{}, false
}

// Names returns the field names in record order
func (r Record) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Clone returns a copy that shares no field storage with r
func (r Record) Clone() Record {
	fields := make([]Field, len(r.Fields))
	copy(fields, r.Fields)
	return Record{Fields: fields}
}

// Equal reports whether both records hold the same fields in the same order
func (r Record) Equal(other Record) bool {
	if len(r.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range r.Fields {
		o := other.Fields[i]
		if f.Name != o.Name || !f.Value.Equal(o.Value) {
			return false
		}
	}
	return true
}

func (r Record) index(name string) int {
	for i, f := range r.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// MarshalJSON encodes the record as a JSON object preserving field order
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalString(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object. Values must be strings, numbers
// or null; booleans, arrays and nested objects are rejected.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotObject
	}

	rec := Record{Fields: make([]Field, 0, 8)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read field name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in field name position", tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read field %q: %w", name, err)
		}

		var value Value
		switch t := tok.(type) {
		case nil:
			value = Null()
		case string:
			value = String(t)
		case json.Number:
			value = Number(t)
		case bool:
			return fmt.Errorf("%w: field %q holds a boolean", ErrUnsupportedValue, name)
		case json.Delim:
			return fmt.Errorf("%w: field %q holds a nested value", ErrUnsupportedValue, name)
		default:
			return fmt.Errorf("%w: field %q", ErrUnsupportedValue, name)
		}

		if i := rec.index(name); i >= 0 {
			rec.Fields[i].Value = value
			continue
		}
		rec.Fields = append(rec.Fields, Field{Name: name, Value: value})
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to read record end: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected data after record")
	}

	*r = rec
	return nil
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
