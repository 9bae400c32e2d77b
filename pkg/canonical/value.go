package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Value is a sealed interface over the JSON value kinds. Only Null, Bool,
// Number, String, Array and Object implement it. A nil Value means the
// field is absent, which is distinct from an explicit Null.
type Value interface {
	canonicalValue()
}

// Null is an explicit JSON null.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number. Non-finite values are rejected at encoding time.
type Number float64

// String is a JSON string. Its bytes are preserved as given, never normalized.
type String string

// Array is an ordered list of values.
type Array []Value

// Object is a map of keys to values. Keys are unique by construction.
type Object map[string]Value

func (Null) canonicalValue()   {}
func (Bool) canonicalValue()   {}
func (Number) canonicalValue() {}
func (String) canonicalValue() {}
func (Array) canonicalValue()  {}
func (Object) canonicalValue() {}

// MarshalJSON encodes v in canonical form.
func (v Null) MarshalJSON() ([]byte, error)   { return marshalValue(v) }
func (v Bool) MarshalJSON() ([]byte, error)   { return marshalValue(v) }
func (v Number) MarshalJSON() ([]byte, error) { return marshalValue(v) }
func (v String) MarshalJSON() ([]byte, error) { return marshalValue(v) }
func (v Array) MarshalJSON() ([]byte, error)  { return marshalValue(v) }
func (v Object) MarshalJSON() ([]byte, error) { return marshalValue(v) }

func marshalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes a single JSON document into a Value. Numbers are read with
// full precision and converted to float64; values outside the float64 range
// are rejected.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parse json: unexpected trailing data")
	}
	return FromAny(raw)
}

// FromAny converts a Go value produced by encoding/json (or built by hand)
// into a Value. Supported inputs are nil, bool, string, the integer and float
// kinds, json.Number, []any, map[string]any, []string, map[string]string and
// any Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", val, err)
		}
		return Number(f), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(float64(val)), nil
	case int:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case uint:
		return Number(float64(val)), nil
	case uint32:
		return Number(float64(val)), nil
	case uint64:
		return Number(float64(val)), nil
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, s := range val {
			obj[k] = String(s)
		}
		return obj, nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			cv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = cv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// ToAny converts a Value back into plain Go values (nil, bool, float64,
// string, []any, map[string]any).
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(val)
	case Number:
		return float64(val)
	case String:
		return string(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	}
	return nil
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	}
	return v
}
