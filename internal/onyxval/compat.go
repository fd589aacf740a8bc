package onyxval

// CompatResult reports whether a new value may replace/merge over an
// existing one, plus the two Kinds involved so callers can log a useful
// diagnostic without re-deriving them.
type CompatResult struct {
	ExistingKind Kind
	NewKind      Kind
	Compatible   bool
}

// Check decides whether newVal is compatible with existingVal, per spec
// §4.1: compatible iff either operand is Undefined/Null, or both are
// arrays, or both are non-array objects. An array or an object paired
// with any other kind (including a scalar) is rejected; two scalars are
// compatible.
func Check(newVal, existingVal Value) CompatResult {
	res := CompatResult{ExistingKind: existingVal.Kind, NewKind: newVal.Kind}

	if newVal.Kind == Undefined || newVal.Kind == Null ||
		existingVal.Kind == Undefined || existingVal.Kind == Null {
		res.Compatible = true
		return res
	}
	if newVal.Kind == Array || existingVal.Kind == Array {
		res.Compatible = newVal.Kind == Array && existingVal.Kind == Array
		return res
	}
	// No arrays remain: an object is compatible only with another object.
	// What is left after this check is scalar vs. scalar.
	if newVal.Kind == Object || existingVal.Kind == Object {
		res.Compatible = newVal.Kind == Object && existingVal.Kind == Object
		return res
	}
	res.Compatible = true
	return res
}
