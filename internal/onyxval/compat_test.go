package onyxval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckCompatibility(t *testing.T) {
	obj := Of(map[string]any{"a": 1})
	arr := Of([]any{1, 2})
	num := Of(3.0)

	cases := []struct {
		name       string
		newVal     Value
		existing   Value
		compatible bool
	}{
		{"undefined existing always compatible", obj, Undef, true},
		{"null existing always compatible", obj, Nil, true},
		{"null new always compatible", Nil, obj, true},
		{"object onto object", obj, Of(map[string]any{"b": 2}), true},
		{"array onto array", arr, Of([]any{3}), true},
		{"array onto object incompatible", arr, obj, false},
		{"object onto array incompatible", obj, arr, false},
		{"object onto scalar incompatible", obj, num, false},
		{"scalar onto scalar compatible", num, Of(1.0), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Check(tc.newVal, tc.existing)
			assert.Equal(t, tc.compatible, res.Compatible)
		})
	}
}
