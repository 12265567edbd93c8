// Package valuetree implements the engine's uniform dynamic value
// representation: the recursive sum type every parsed field, default, and
// example is stored as. Values convert from and to the plain Go values that
// JSON, YAML, and TOML decoders produce (FromGo, ToGo) and encode to JSON
// with MarshalJSON (mapping order kept, bytes as base64). There is no JSON
// decoding back into a Value, and this package does no YAML or TOML
// parsing of its own.
package valuetree

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the concrete shape a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindSequence
	KindMapping
)

// Value is the recursive ValueTree sum: Null | Bool | Integer | Float |
// String | Bytes | Sequence | Mapping. Zero value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	seq  []Value
	// keys preserves the insertion order of values, mirroring the invariant that
	// Mapping is insertion-ordered and string-keyed with unique keys.
	keys   []string
	values map[string]Value
}

// Null returns the Null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int wraps a signed integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float wraps a double.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String wraps a UTF-8 string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bytes wraps a raw byte slice.
func Bytes(v []byte) Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Value{kind: KindBytes, by: cp}
}

// Sequence wraps an ordered list of values.
func Sequence(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindSequence, seq: cp}
}

// NewMapping builds an empty, insertion-ordered Mapping.
func NewMapping() Value {
	return Value{kind: KindMapping, values: map[string]Value{}}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)    { return v.by, v.kind == KindBytes }
func (v Value) AsSequence() ([]Value, bool) {
	if v.kind != KindSequence {
		return nil, false
	}
	return v.seq, true
}

// Keys returns the Mapping's keys in insertion order. Empty for non-mappings.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Get looks up a key in a Mapping.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	val, ok := v.values[key]
	return val, ok
}

// Set inserts or overwrites a key, preserving insertion order for new keys.
// Panics if called on a non-Mapping; callers must construct with NewMapping.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindMapping {
		panic("valuetree: Set called on non-mapping value")
	}
	if v.values == nil {
		v.values = map[string]Value{}
	}
	if _, exists := v.values[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.values[key] = val
}

// Delete removes a key, preserving the order of the remaining keys.
func (v *Value) Delete(key string) {
	if v.kind != KindMapping {
		return
	}
	if _, ok := v.values[key]; !ok {
		return
	}
	delete(v.values, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Len reports the number of entries for Sequence/Mapping, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.keys)
	default:
		return 0
	}
}

// Equal reports structural equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindBytes:
		if len(a.by) != len(b.by) {
			return false
		}
		for i := range a.by {
			if a.by[i] != b.by[i] {
				return false
			}
		}
		return true
	case KindSequence:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for _, k := range a.keys {
			av, aok := a.values[k]
			bv, bok := b.values[k]
			if !aok || !bok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromGo lifts a Go dynamic value (as produced by encoding/json,
// gopkg.in/yaml.v3 Decode, or BurntSushi/toml Decode into map[string]any)
// into a ValueTree. Map keys are sorted for determinism when the source
// container does not preserve order (plain map[string]any); callers needing
// insertion order from YAML should decode into yaml.Node and walk it instead.
func FromGo(in any) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case []any:
		items := make([]Value, len(t))
		for i, el := range t {
			items[i] = FromGo(el)
		}
		return Sequence(items...)
	case map[string]any:
		m := NewMapping()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Set(k, FromGo(t[k]))
		}
		return m
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToGo lowers a ValueTree back into plain Go values suitable for
// encoding/json marshaling or backend consumption. Bytes become base64
// strings.
func ToGo(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.by)
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, el := range v.seq {
			out[i] = ToGo(el)
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = ToGo(v.values[k])
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON serializes the value, preserving Mapping key order (the
// standard library's map[string]any would not).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindMapping:
		var buf []byte
		buf = append(buf, '{')
		for i, k := range v.keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			valJSON, err := v.values[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, valJSON...)
		}
		buf = append(buf, '}')
		return buf, nil
	case KindSequence:
		var buf []byte
		buf = append(buf, '[')
		for i, el := range v.seq {
			if i > 0 {
				buf = append(buf, ',')
			}
			elJSON, err := el.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, elJSON...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(ToGo(v))
	}
}
