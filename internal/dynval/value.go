// Package dynval implements the recursive, JSON-compatible value produced
// by the protobuf decoder and consumed by user transform scripts.
package dynval

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindFloat64
	KindString
	KindBytes
	KindList
	KindObject
)

// Field is one entry of an Object, keeping declaration order.
type Field struct {
	Name  string
	Value Value
}

// Value is a recursive tagged union: null, bool, int64, uint64, double,
// string, bytes (rendered as base64 on marshal), list, or an ordered
// string-keyed object. Exactly one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Uint   uint64
	Float  float64
	Str    string
	Bytes  []byte
	List   []Value
	Object []Field
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int64(i int64) Value        { return Value{Kind: KindInt64, Int: i} }
func Uint64(u uint64) Value      { return Value{Kind: KindUint64, Uint: u} }
func Float64(f float64) Value    { return Value{Kind: KindFloat64, Float: f} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Bytes: b} }
func List(items []Value) Value   { return Value{Kind: KindList, List: items} }
func Object(fields []Field) Value { return Value{Kind: KindObject, Object: fields} }

// Get returns the field named n from an object Value, and whether it was
// present. It is a no-op on non-object values.
func (v Value) Get(n string) (Value, bool) {
	for _, f := range v.Object {
		if f.Name == n {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON renders the value the way the script sees it: bytes as
// standard base64 with padding, objects as ordered key/value pairs,
// everything else the natural JSON encoding. NaN/Inf floats were already
// collapsed to null by the decoder before reaching here.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt64:
		fmt.Fprintf(buf, "%d", v.Int)
	case KindUint64:
		fmt.Fprintf(buf, "%d", v.Uint)
	case KindFloat64:
		b, err := json.Marshal(v.Float)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindBytes:
		b, err := json.Marshal(v.Bytes) // encoding/json base64-encodes []byte with padding
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range v.Object {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Name)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("dynval: unknown kind %d", v.Kind)
	}
	return nil
}

// Native converts the value into the nearest plain Go type (map[string]any,
// []any, string, float64/int64/uint64, bool, nil; bytes become a standard
// base64 string with padding) — the shape a
// script runtime's JSON bridge wants to ingest directly, without an
// intermediate json.Marshal/Unmarshal round trip.
func (v Value) Native() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt64:
		return v.Int
	case KindUint64:
		return v.Uint
	case KindFloat64:
		return v.Float
	case KindString:
		return v.Str
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Native()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Object))
		for _, f := range v.Object {
			out[f.Name] = f.Value.Native()
		}
		return out
	default:
		return nil
	}
}
