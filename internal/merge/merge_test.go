package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/onyx/internal/onyxval"
)

func obj(m map[string]any) onyxval.Value { return onyxval.Of(m) }

func TestApplyFromUndefined(t *testing.T) {
	result := Apply(onyxval.Undef, []onyxval.Value{obj(map[string]any{"a": 1.0})}, false)
	assert.Equal(t, map[string]any{"a": 1.0}, result.Object())
}

func TestApplyObjectDeepMerge(t *testing.T) {
	base := obj(map[string]any{"a": 1.0, "nested": map[string]any{"x": 1.0, "y": 2.0}})
	delta := obj(map[string]any{"nested": map[string]any{"y": 3.0}})

	result := Apply(base, []onyxval.Value{delta}, false)
	nested := result.Object()["nested"].(map[string]any)
	assert.Equal(t, 1.0, nested["x"])
	assert.Equal(t, 3.0, nested["y"])
}

func TestApplyNestedNullStripNulls(t *testing.T) {
	base := obj(map[string]any{"a": 1.0, "b": 2.0})
	delta := obj(map[string]any{"b": nil})

	stripped := Apply(base, []onyxval.Value{delta}, true)
	_, hasB := stripped.Object()["b"]
	assert.False(t, hasB)

	kept := Apply(base, []onyxval.Value{delta}, false)
	v, hasB := kept.Object()["b"]
	assert.True(t, hasB)
	assert.Nil(t, v)
}

func TestApplyArraysReplaceWholesale(t *testing.T) {
	base := onyxval.Of([]any{1.0, 2.0})
	delta := onyxval.Of([]any{3.0})
	result := Apply(base, []onyxval.Value{delta}, false)
	assert.Equal(t, []any{3.0}, result.Raw)
}

func TestApplyTopLevelNullThenObjectReplacesWholesale(t *testing.T) {
	base := obj(map[string]any{"a": 1.0})
	deltas := []onyxval.Value{onyxval.Nil, obj(map[string]any{"b": 2.0})}

	result := Apply(base, deltas, false)
	assert.Equal(t, map[string]any{"b": 2.0}, result.Object())
}

func TestApplyScalarsReplace(t *testing.T) {
	result := Apply(onyxval.Of("old"), []onyxval.Value{onyxval.Of("new")}, false)
	assert.Equal(t, "new", result.Raw)
}
