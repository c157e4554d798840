package users

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ValueKind identifies which JSON type a Value holds.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a closed union over the JSON value types. Metadata partitions store
// arbitrary JSON-serializable data, but as a tagged union rather than an
// open-ended any, so every stored value has a concrete, validated shape.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
	a    []Value
	o    map[string]Value
}

func Null() Value                     { return Value{kind: KindNull} }
func Bool(b bool) Value               { return Value{kind: KindBool, b: b} }
func Number(n float64) Value          { return Value{kind: KindNumber, n: n} }
func String(s string) Value           { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value      { return Value{kind: KindArray, a: items} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, o: m} }

// Kind returns which JSON type the value holds.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Bool() bool               { return v.b }
func (v Value) Number() float64          { return v.n }
func (v Value) String() string           { return v.s }
func (v Value) Items() []Value           { return v.a }
func (v Value) Fields() map[string]Value { return v.o }

// Equal reports deep equality of two values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.a) != len(other.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(other.a[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.o) != len(other.o) {
			return false
		}
		for k, val := range v.o {
			ov, ok := other.o[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toAny())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "users.Value UnmarshalJSON")
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) toAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.a))
		for i, item := range v.a {
			out[i] = item.toAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.o))
		for k, val := range v.o {
			out[k] = val.toAny()
		}
		return out
	}
	return nil
}

// FromAny converts a decoded JSON value (as produced by encoding/json into
// any) into a Value. Unsupported Go types are rejected.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, errors.Wrap(err, "users.FromAny number")
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	default:
		return Value{}, errors.Errorf("users.FromAny: unsupported type %T", raw)
	}
}

// Metadata is one user metadata partition: string keys to JSON values.
type Metadata map[string]Value

// Clone returns a copy that shares no mutable state with the original.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.a))
		for i, item := range v.a {
			items[i] = item.clone()
		}
		return Array(items...)
	case KindObject:
		fields := make(map[string]Value, len(v.o))
		for k, item := range v.o {
			fields[k] = item.clone()
		}
		return Object(fields)
	default:
		return v
	}
}

// Merge applies patch on top of m and returns the result. Patch keys overwrite
// existing keys; a Null value stores an explicit JSON null rather than
// deleting the key.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	if out == nil {
		out = make(Metadata, len(patch))
	}
	for k, v := range patch {
		out[k] = v.clone()
	}
	return out
}
