// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies which alternative a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

var kindNames = [...]string{"null", "bool", "int", "float", "string", "array", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is an opaque JSON payload: command params, response data and
// event data. It is a closed variant; the zero Value is null.
//
// Integers and floats are distinct alternatives. A float always
// encodes with a fraction or exponent ("1.0", not "1") so that it
// decodes back as a float.
type Value struct {
	kind    Kind
	boolean bool
	integer int64
	float   float64
	text    string
	array   []Value
	object  Object
}

// Object is a JSON mapping. Keys are unique; order is not preserved.
type Object map[string]Value

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, integer: i} }

// Float returns a floating-point Value. NaN and infinities cannot be
// encoded.
func Float(f float64) Value { return Value{kind: KindFloat, float: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Array returns a sequence Value holding items.
func Array(items ...Value) Value {
	return Value{kind: KindArray, array: append([]Value{}, items...)}
}

// Value wraps the mapping as a Value. A nil Object becomes an empty
// mapping.
func (o Object) Value() Value {
	if o == nil {
		o = Object{}
	}
	return Value{kind: KindObject, object: o}
}

// Kind reports which alternative v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

func (v Value) AsInt() (int64, bool) { return v.integer, v.kind == KindInt }

// AsFloat accepts both numeric alternatives, widening integers.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.float, true
	case KindInt:
		return float64(v.integer), true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) { return v.text, v.kind == KindString }

func (v Value) AsArray() ([]Value, bool) { return v.array, v.kind == KindArray }

func (v Value) AsObject() (Object, bool) { return v.object, v.kind == KindObject }

// Equal reports deep equality. Int(1) and Float(1) are not equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolean == other.boolean
	case KindInt:
		return v.integer == other.integer
	case KindFloat:
		return v.float == other.float || (math.IsNaN(v.float) && math.IsNaN(other.float))
	case KindString:
		return v.text == other.text
	case KindArray:
		return slices.EqualFunc(v.array, other.array, Value.Equal)
	case KindObject:
		return v.object.Equal(other.object)
	}
	return false
}

// Equal reports whether both mappings hold equal values under the same
// keys.
func (o Object) Equal(other Object) bool {
	if len(o) != len(other) {
		return false
	}
	for key, value := range o {
		otherValue, ok := other[key]
		if !ok || !value.Equal(otherValue) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes v. Object keys are written in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	if err := v.encode(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (v Value) encode(buffer *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buffer.WriteString("null")
	case KindBool:
		buffer.WriteString(strconv.FormatBool(v.boolean))
	case KindInt:
		buffer.WriteString(strconv.FormatInt(v.integer, 10))
	case KindFloat:
		if math.IsNaN(v.float) || math.IsInf(v.float, 0) {
			return fmt.Errorf("protocol: cannot encode %v as JSON", v.float)
		}
		text := strconv.FormatFloat(v.float, 'g', -1, 64)
		if !strings.ContainsAny(text, ".eE") {
			text += ".0"
		}
		buffer.WriteString(text)
	case KindString:
		encoded, err := json.Marshal(v.text)
		if err != nil {
			return err
		}
		buffer.Write(encoded)
	case KindArray:
		buffer.WriteByte('[')
		for index, item := range v.array {
			if index > 0 {
				buffer.WriteByte(',')
			}
			if err := item.encode(buffer); err != nil {
				return err
			}
		}
		buffer.WriteByte(']')
	case KindObject:
		buffer.WriteByte('{')
		keys := make([]string, 0, len(v.object))
		for key := range v.object {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for index, key := range keys {
			if index > 0 {
				buffer.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buffer.Write(encodedKey)
			buffer.WriteByte(':')
			if err := v.object[key].encode(buffer); err != nil {
				return err
			}
		}
		buffer.WriteByte('}')
	default:
		return fmt.Errorf("protocol: invalid value kind %v", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes a single JSON document. Numbers without a
// fraction or exponent that fit in int64 become Int; all others become
// Float.
func ParseValue(data []byte) (Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	value, err := decodeValue(decoder)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data after JSON value", ErrMalformed)
	}
	return value, nil
}

func decodeValue(decoder *json.Decoder) (Value, error) {
	token, err := decoder.Token()
	if err != nil {
		return Value{}, err
	}

	switch token := token.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(token), nil
	case string:
		return String(token), nil
	case json.Number:
		return decodeNumber(token)
	case json.Delim:
		switch token {
		case '[':
			items := []Value{}
			for decoder.More() {
				item, err := decodeValue(decoder)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := decoder.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindArray, array: items}, nil
		case '{':
			object := Object{}
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T", keyToken)
				}
				item, err := decodeValue(decoder)
				if err != nil {
					return Value{}, err
				}
				object[key] = item
			}
			if _, err := decoder.Token(); err != nil {
				return Value{}, err
			}
			return object.Value(), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", token)
}

func decodeNumber(number json.Number) (Value, error) {
	text := number.String()
	if !strings.ContainsAny(text, ".eE") {
		if integer, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(integer), nil
		}
	}
	float, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("number %s: %w", text, err)
	}
	return Float(float), nil
}
