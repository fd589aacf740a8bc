// Package merge implements the deep-merge primitive used by every write
// operation that folds deltas into an existing value (spec §4.2).
package merge

import "github.com/dreamware/onyx/internal/onyxval"

// Apply deep-merges deltas onto base, left to right, honoring nested null
// as field deletion. Two modes are supported via stripNulls:
//
//   - stripNulls=false produces a delta suitable for storage backends that
//     natively understand nested deletion (mergeItem's delta argument, and
//     the batching inside update's per-key fold).
//   - stripNulls=true produces a materialized snapshot: fields whose delta
//     value is null are removed from the result rather than retaining an
//     explicit null marker. Used for mergeItem's preMerged argument and for
//     updating the cache.
//
// If base is Undefined, folding starts from the first delta. If any delta
// is top-level Null, the accumulator becomes Null; a later object delta in
// the same fold replaces it wholesale (Null has no fields to merge into).
func Apply(base onyxval.Value, deltas []onyxval.Value, stripNulls bool) onyxval.Value {
	acc := base
	first := base.IsUndefined()
	for _, d := range deltas {
		if first {
			acc = normalize(d, stripNulls)
			first = false
			continue
		}
		acc = mergeOne(acc, d, stripNulls)
	}
	return acc
}

// mergeOne folds a single delta d onto the accumulator acc.
func mergeOne(acc, d onyxval.Value, stripNulls bool) onyxval.Value {
	if d.IsUndefined() {
		return acc
	}
	if d.IsNull() {
		return onyxval.Nil
	}
	if acc.Kind == onyxval.Object && d.Kind == onyxval.Object {
		return mergeObjects(acc, d, stripNulls)
	}
	// Arrays and scalars replace wholesale; so does an object delta onto
	// a non-object (or Null/Undefined) accumulator.
	return normalize(d, stripNulls)
}

// mergeObjects deep-merges delta's fields into base's, field by field.
func mergeObjects(base, delta onyxval.Value, stripNulls bool) onyxval.Value {
	baseFields := base.Object()
	deltaFields := delta.Object()

	out := make(map[string]any, len(baseFields)+len(deltaFields))
	for k, v := range baseFields {
		out[k] = v
	}

	for k, rawDeltaVal := range deltaFields {
		deltaVal := onyxval.Of(rawDeltaVal)
		if deltaVal.IsNull() {
			if stripNulls {
				delete(out, k)
			} else {
				out[k] = nil
			}
			continue
		}
		if existingRaw, ok := out[k]; ok {
			existingVal := onyxval.Of(existingRaw)
			if existingVal.Kind == onyxval.Object && deltaVal.Kind == onyxval.Object {
				merged := mergeObjects(existingVal, deltaVal, stripNulls)
				out[k] = merged.Raw
				continue
			}
		}
		out[k] = normalize(deltaVal, stripNulls).Raw
	}

	return onyxval.Value{Kind: onyxval.Object, Raw: out}
}

// normalize applies stripNulls recursively to a freshly-introduced value
// (one with no prior accumulator to merge against), so that nested nulls
// inside a wholesale object/array replacement are still stripped when
// stripNulls is requested.
func normalize(v onyxval.Value, stripNulls bool) onyxval.Value {
	if !stripNulls || v.Kind != onyxval.Object {
		return v
	}
	fields := v.Object()
	out := make(map[string]any, len(fields))
	for k, raw := range fields {
		fv := onyxval.Of(raw)
		if fv.IsNull() {
			continue
		}
		out[k] = normalize(fv, stripNulls).Raw
	}
	return onyxval.Value{Kind: onyxval.Object, Raw: out}
}
