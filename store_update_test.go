package onyx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateHeterogeneousBatch(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", Of(map[string]any{"a": 1.0})))
	require.NoError(t, s.Set(ctx, "keep", Of("v1")))

	err := s.Update(ctx, []Op{
		{Method: OpMerge, Key: "k1", Value: Of(map[string]any{"b": 2.0})},
		{Method: OpSet, Key: "k2", Value: Of("v2")},
		{Method: OpClear, KeysToPreserve: []string{"keep"}},
	})
	require.NoError(t, err)

	// clear runs first, so k1/k2 land on a freshly-cleared store.
	v1, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"b": 2.0}, v1.Object())

	v2, ok, err := s.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", v2.Raw)

	keep, ok, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", keep.Raw)
}

func TestUpdateRejectsUnknownMethod(t *testing.T) {
	s := newTestStore(t, Options{})
	err := s.Update(context.Background(), []Op{{Method: OpMethod("bogus")}})
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestUpdateRejectsSetWithoutKey(t *testing.T) {
	s := newTestStore(t, Options{})
	err := s.Update(context.Background(), []Op{{Method: OpSet, Value: Of("v1")}})
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestUpdateSnapshotsRunBeforeMainBatch(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	var snapshotSawKey bool
	snapFn := func(ctx context.Context) error {
		_, ok, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		snapshotSawKey = ok
		return nil
	}

	require.NoError(t, s.Update(ctx, []Op{
		{Method: OpSet, Key: "k1", Value: Of("v1")},
	}, snapFn))

	assert.False(t, snapshotSawKey, "snapshot functions run before the main batch lands")
}

func TestUpdateCollapsesMultiMemberCollection(t *testing.T) {
	s := newTestStore(t, Options{CollectionPrefixes: []string{"report_"}})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "report_1", Of(map[string]any{"a": 1.0})))

	// report_1: merge (routes to mergePortion). report_2: fresh set (null
	// first op, routes to setPortion). Two queued members for the same
	// prefix collapses into a single applyCollapsedCollection call.
	err := s.Update(ctx, []Op{
		{Method: OpMerge, Key: "report_1", Value: Of(map[string]any{"b": 2.0})},
		{Method: OpSet, Key: "report_2", Value: Of(map[string]any{"c": 3.0})},
	})
	require.NoError(t, err)

	v1, ok, err := s.Get(ctx, "report_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v1.Object())

	v2, ok, err := s.Get(ctx, "report_2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"c": 3.0}, v2.Object())
}

func TestUpdateRejectsForeignCollectionKey(t *testing.T) {
	s := newTestStore(t, Options{CollectionPrefixes: []string{"report_"}})
	err := s.Update(context.Background(), []Op{
		{Method: OpMergeCollection, Key: "report_", Values: map[string]Value{"other_1": Of("v1")}},
	})
	assert.Error(t, err)
}

func TestUpdateJoinsConcurrentErrors(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	err := s.Update(ctx, []Op{}, func(context.Context) error {
		return errors.New("snapshot one failed")
	}, func(context.Context) error {
		return errors.New("snapshot two failed")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot one failed")
	assert.Contains(t, err.Error(), "snapshot two failed")
}
