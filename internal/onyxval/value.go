// Package onyxval defines the JSON-shaped value representation shared by
// every layer of the store: the cache, the merge primitive, the storage
// drivers, and the subscriber registry all speak in terms of Value.
//
// A Value is a tagged sum over the JSON data model plus two states that
// JSON itself cannot express on its own: Undefined (never stored, never
// propagated) and the distinction between "absent" and "explicitly null".
package onyxval

import "encoding/json"

// Kind classifies the shape of a Value without inspecting its payload.
type Kind int

const (
	// Undefined marks a Value that was never set. A top-level Undefined
	// passed to a write operation is always a no-op.
	Undefined Kind = iota
	// Null represents JSON null. At the top level it means "delete this
	// key from storage"; nested inside an object delta it means "delete
	// this field" (subject to the merge primitive's stripNulls mode).
	Null
	Bool
	Number
	String
	// Array values are replaced wholesale during merges, never concatenated.
	Array
	// Object values are deep-merged key by key.
	Object
)

// Value is an immutable, JSON-marshalable payload tagged with its Kind so
// callers never need to type-switch on raw interface{} to decide how to
// merge or compare it.
type Value struct {
	Raw  any
	Kind Kind
}

// Nil is the canonical representation of JSON null.
var Nil = Value{Kind: Null}

// Undef is the canonical representation of "no value at all".
var Undef = Value{Kind: Undefined}

// Of classifies an arbitrary Go value (as produced by encoding/json
// unmarshaling into interface{}, i.e. map[string]any / []any / float64 /
// string / bool / nil) into a Value.
func Of(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Nil
	case bool:
		return Value{Kind: Bool, Raw: v}
	case float64, int, int64:
		return Value{Kind: Number, Raw: v}
	case string:
		return Value{Kind: String, Raw: v}
	case []any:
		return Value{Kind: Array, Raw: v}
	case map[string]any:
		return Value{Kind: Object, Raw: v}
	default:
		return Value{Kind: Object, Raw: v}
	}
}

// IsUndefined reports whether v is the sentinel "never set" value.
func (v Value) IsUndefined() bool { return v.Kind == Undefined }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.Kind == Null }

// Object returns the value's fields when Kind is Object, or nil otherwise.
func (v Value) Object() map[string]any {
	if v.Kind != Object {
		return nil
	}
	m, _ := v.Raw.(map[string]any)
	return m
}

// MarshalJSON lets a Value be embedded directly in API responses.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == Undefined {
		return []byte("null"), nil
	}
	if v.Kind == Null {
		return []byte("null"), nil
	}
	return json.Marshal(v.Raw)
}

// UnmarshalJSON reconstructs a Value from its JSON wire form. A JSON "null"
// decodes to Null, never to Undefined — Undefined only ever arises from a
// caller omitting an argument in Go code.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Of(raw)
	return nil
}

// Equal reports whether two values are structurally identical. Used by the
// cache's hasValueChanged check (spec §3) to decide whether a write needs
// to broadcast/persist at all.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Undefined, Null:
		return true
	case Object:
		am, bm := a.Object(), b.Object()
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !Equal(Of(av), Of(bv)) {
				return false
			}
		}
		return true
	case Array:
		aa, _ := a.Raw.([]any)
		ba, _ := b.Raw.([]any)
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !Equal(Of(aa[i]), Of(ba[i])) {
				return false
			}
		}
		return true
	default:
		return a.Raw == b.Raw
	}
}
