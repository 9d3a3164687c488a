package graph

import (
	"encoding/base64"
	"math"
	"sort"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindNodeRef
)

// Value is the tagged union flowing through queries and storage.
//
// Variants: null, boolean, 64-bit signed integer, 64-bit float, string, byte
// sequence, ordered list, string-keyed map (deterministic key order at encode
// time), and node reference. Equality is structural; ordering is defined only
// within a single numeric variant, with mixed int/float compared after
// promoting the int.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Bytes   []byte
	List    []Value
	Map     map[string]Value
	NodeRef NodeID
}

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue wraps a 64-bit signed integer.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue wraps a 64-bit float.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BytesValue wraps a byte sequence.
func BytesValue(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// ListValue wraps an ordered list.
func ListValue(vs []Value) Value { return Value{Kind: KindList, List: vs} }

// MapValue wraps a string-keyed map.
func MapValue(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// NodeRefValue wraps an opaque node identifier.
func NodeRefValue(id NodeID) Value { return Value{Kind: KindNodeRef, NodeRef: id} }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal reports structural equality between two values.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		if len(v.Bytes) != len(o.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != o.Bytes[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, vv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	case KindNodeRef:
		return v.NodeRef == o.NodeRef
	}
	return false
}

// ToJSON converts the value to a plain Go value suitable for encoding/json.
//
// The conversion is lossy but well-defined: node references serialise as
// numbers (reload as integers), byte sequences as base64 strings, maps with
// lexicographically sorted keys, and NaN/Infinity floats as null. Same input
// always yields the same bytes, which keeps segment payloads reproducible.
func (v Value) ToJSON() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil
		}
		return v.Float
	case KindString:
		return v.Str
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.ToJSON()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.ToJSON()
		}
		return out
	case KindNodeRef:
		return uint64(v.NodeRef)
	}
	return nil
}

// FromJSON converts a decoded JSON value (as produced by encoding/json into
// any) back into a Value. Numbers arrive as float64; integral floats reload
// as Int, which is how node references round-trip into integers.
func FromJSON(j any) (Value, bool) {
	switch t := j.(type) {
	case nil:
		return Null(), true
	case bool:
		return BoolValue(t), true
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) && math.Abs(t) < 1<<53 {
			return IntValue(int64(t)), true
		}
		return FloatValue(t), true
	case int64:
		return IntValue(t), true
	case uint64:
		return IntValue(int64(t)), true
	case int:
		return IntValue(int64(t)), true
	case string:
		return StringValue(t), true
	case []any:
		list := make([]Value, 0, len(t))
		for _, item := range t {
			v, ok := FromJSON(item)
			if !ok {
				return Null(), false
			}
			list = append(list, v)
		}
		return ListValue(list), true
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, ok := FromJSON(item)
			if !ok {
				return Null(), false
			}
			m[k] = v
		}
		return MapValue(m), true
	}
	return Null(), false
}

// SortedKeys returns the keys of a property map in lexicographic order.
// Map ordering is part of the segment byte stream, not an incidental detail.
func SortedKeys(props map[string]Value) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PropertiesToJSON converts a property map into a JSON-ready map.
func PropertiesToJSON(props map[string]Value) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v.ToJSON()
	}
	return out
}

// PropertiesFromJSON rebuilds a property map from decoded JSON.
func PropertiesFromJSON(j any) map[string]Value {
	props := make(map[string]Value)
	obj, ok := j.(map[string]any)
	if !ok {
		return props
	}
	for k, v := range obj {
		if val, ok := FromJSON(v); ok {
			props[k] = val
		}
	}
	return props
}
