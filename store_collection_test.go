package onyx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCollectionNewAndExistingMembers(t *testing.T) {
	s := newTestStore(t, Options{CollectionPrefixes: []string{"report_"}})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "report_1", Of(map[string]any{"a": 1.0})))

	require.NoError(t, s.MergeCollection(ctx, "report_", map[string]Value{
		"report_1": Of(map[string]any{"b": 2.0}),
		"report_2": Of(map[string]any{"c": 3.0}),
	}))

	v1, ok, err := s.Get(ctx, "report_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v1.Object())

	v2, ok, err := s.Get(ctx, "report_2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"c": 3.0}, v2.Object())
}

func TestMergeCollectionNullMemberRemoves(t *testing.T) {
	s := newTestStore(t, Options{CollectionPrefixes: []string{"report_"}})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "report_1", Of("v1")))
	require.NoError(t, s.MergeCollection(ctx, "report_", map[string]Value{"report_1": Nil}))

	_, ok, err := s.Get(ctx, "report_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeCollectionRejectsEmpty(t *testing.T) {
	s := newTestStore(t, Options{CollectionPrefixes: []string{"report_"}})
	err := s.MergeCollection(context.Background(), "report_", map[string]Value{})
	assert.ErrorIs(t, err, ErrEmptyCollection)
}

func TestMergeCollectionRejectsForeignKey(t *testing.T) {
	s := newTestStore(t, Options{CollectionPrefixes: []string{"report_"}})
	err := s.MergeCollection(context.Background(), "report_", map[string]Value{"other_1": Of("v1")})
	assert.Error(t, err)
}

func TestSetCollectionReplacesWholesale(t *testing.T) {
	s := newTestStore(t, Options{CollectionPrefixes: []string{"report_"}})
	ctx := context.Background()

	require.NoError(t, s.SetCollection(ctx, "report_", map[string]Value{
		"report_1": Of("v1"),
		"report_2": Of("v2"),
	}))
	require.NoError(t, s.SetCollection(ctx, "report_", map[string]Value{
		"report_1": Of("updated"),
	}))

	v1, ok, err := s.Get(ctx, "report_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "updated", v1.Raw)

	_, ok, err = s.Get(ctx, "report_2")
	require.NoError(t, err)
	assert.False(t, ok, "a member absent from the new set must be removed")
}

func TestMergeCollectionSkipsSkippableMembers(t *testing.T) {
	s := newTestStore(t, Options{
		CollectionPrefixes:           []string{"report_"},
		SkippableCollectionMemberIDs: []string{"blocked"},
	})
	ctx := context.Background()

	require.NoError(t, s.MergeCollection(ctx, "report_", map[string]Value{
		"report_blocked": Of(map[string]any{"a": 1.0}),
		"report_1":       Of(map[string]any{"a": 1.0}),
	}))

	_, ok, err := s.Get(ctx, "report_blocked")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, "report_1")
	require.NoError(t, err)
	assert.True(t, ok)
}
