package onyxval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfClassifiesRawValues(t *testing.T) {
	cases := []struct {
		name string
		raw  any
		kind Kind
	}{
		{"nil", nil, Null},
		{"bool", true, Bool},
		{"number", 3.14, Number},
		{"string", "hi", String},
		{"array", []any{1, 2}, Array},
		{"object", map[string]any{"a": 1}, Object},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, Of(tc.raw).Kind)
		})
	}
}

func TestUndefinedAndNull(t *testing.T) {
	assert.True(t, Undef.IsUndefined())
	assert.False(t, Undef.IsNull())
	assert.True(t, Nil.IsNull())
	assert.False(t, Nil.IsUndefined())
}

func TestUnmarshalJSONNullIsNeverUndefined(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte("null"), &v))
	assert.True(t, v.IsNull())
	assert.False(t, v.IsUndefined())
}

func TestMarshalRoundTrip(t *testing.T) {
	v := Of(map[string]any{"a": float64(1), "b": "two"})
	encoded, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.True(t, Equal(v, decoded))
}

func TestEqual(t *testing.T) {
	a := Of(map[string]any{"x": float64(1), "y": []any{"a", "b"}})
	b := Of(map[string]any{"y": []any{"a", "b"}, "x": float64(1)})
	assert.True(t, Equal(a, b))

	c := Of(map[string]any{"x": float64(2)})
	assert.False(t, Equal(a, c))

	assert.True(t, Equal(Undef, Value{}))
	assert.False(t, Equal(Nil, Undef))
}
