package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/onyx/internal/onyxval"
	syncbus "github.com/dreamware/onyx/internal/sync"
)

func zerologNop() zerolog.Logger { return zerolog.Nop() }

func TestMemoryDriverSetGetRemove(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver(nil)
	require.NoError(t, d.Init(ctx))

	require.NoError(t, d.SetItem(ctx, "k1", onyxval.Of("v1")))
	v, ok, err := d.GetItem(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", v.Raw)

	require.NoError(t, d.RemoveItems(ctx, []string{"k1"}))
	_, ok, err = d.GetItem(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDriverMultiSetAndGetAllKeys(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver(nil)
	require.NoError(t, d.Init(ctx))

	require.NoError(t, d.MultiSet(ctx, map[string]onyxval.Value{
		"k1": onyxval.Of(1.0),
		"k2": onyxval.Of(2.0),
	}))

	keys, err := d.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	_, ok := keys["k1"]
	assert.True(t, ok)
}

func TestMemoryDriverMergeItem(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver(nil)
	require.NoError(t, d.Init(ctx))

	require.NoError(t, d.SetItem(ctx, "k1", onyxval.Of(map[string]any{"a": 1.0})))

	delta := onyxval.Of(map[string]any{"b": 2.0})
	preMerged := onyxval.Of(map[string]any{"a": 1.0, "b": 2.0})
	require.NoError(t, d.MergeItem(ctx, "k1", delta, preMerged, false))

	v, ok, err := d.GetItem(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v.Object())
}

func TestMemoryDriverMergeItemRemovesOnNullResult(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver(nil)
	require.NoError(t, d.Init(ctx))
	require.NoError(t, d.SetItem(ctx, "k1", onyxval.Of("v1")))

	require.NoError(t, d.MergeItem(ctx, "k1", onyxval.Nil, onyxval.Nil, false))

	_, ok, err := d.GetItem(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDriverKeepInstancesSyncAppliesRemoteWrites(t *testing.T) {
	ctx := context.Background()
	bus := syncbus.NewBus(zerologNop())
	d := NewMemoryDriver(bus)
	require.NoError(t, d.Init(ctx))

	var received string
	require.NoError(t, d.KeepInstancesSync(ctx, func(key string, value onyxval.Value) {
		received = key
	}))

	body, err := json.Marshal(syncbus.WriteNotification{Key: "remote", Value: onyxval.Of("from-peer")})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/onyx/sync", bytes.NewReader(body))
	bus.Handler()(rec, req)
	require.Equal(t, 204, rec.Code)

	assert.Equal(t, "remote", received)
	v, ok, err := d.GetItem(ctx, "remote")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-peer", v.Raw)
}
