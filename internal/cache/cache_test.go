package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/onyx/internal/onyxval"
)

func TestGetSetRemove(t *testing.T) {
	c := New(10)
	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Set("k1", onyxval.Of("v1"))
	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v.Raw)

	c.Remove("k1")
	_, ok = c.Get("k1")
	assert.False(t, ok)
}

func TestNullishTracking(t *testing.T) {
	c := New(10)
	c.Set("k1", onyxval.Nil)
	assert.True(t, c.IsNullish("k1"))

	c.Set("k1", onyxval.Of("v1"))
	assert.False(t, c.IsNullish("k1"))
}

func TestHasValueChanged(t *testing.T) {
	c := New(10)
	assert.True(t, c.HasValueChanged("k1", onyxval.Of("v1")), "uncached key is always a change")

	c.Set("k1", onyxval.Of("v1"))
	assert.False(t, c.HasValueChanged("k1", onyxval.Of("v1")))
	assert.True(t, c.HasValueChanged("k1", onyxval.Of("v2")))
}

func TestEvictLRUOnlyEvictableKeys(t *testing.T) {
	c := New(2)
	c.MarkEvictable("evictable")
	c.Set("protected", onyxval.Of(1.0))
	c.Set("evictable", onyxval.Of(2.0))

	key, ok := c.EvictLRU()
	require.True(t, ok)
	assert.Equal(t, "evictable", key)

	_, ok = c.Get("evictable")
	assert.False(t, ok)
	_, ok = c.Get("protected")
	assert.True(t, ok, "non-evictable key must survive eviction")
}

func TestEvictLRUDisabledWhenMaxCachedKeysCountZero(t *testing.T) {
	c := New(0)
	c.MarkEvictable("k1")
	c.Set("k1", onyxval.Of(1.0))

	_, ok := c.EvictLRU()
	assert.False(t, ok)
}

func TestEvictLRUPicksLeastRecentlyUsed(t *testing.T) {
	c := New(10)
	c.MarkEvictable("a", "b")
	c.Set("a", onyxval.Of(1.0))
	c.Set("b", onyxval.Of(2.0))
	c.Get("a") // touch a, making b the LRU candidate

	key, ok := c.EvictLRU()
	require.True(t, ok)
	assert.Equal(t, "b", key)
}

func TestStats(t *testing.T) {
	c := New(10)
	c.MarkEvictable("k1")
	c.Set("k1", onyxval.Of(1.0))
	c.Set("k2", onyxval.Nil)
	c.EvictLRU()

	stats := c.Stats()
	assert.Equal(t, 1, stats.KeysCached)
	assert.Equal(t, 1, stats.NullishKeys)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestRegisterAndAwaitTask(t *testing.T) {
	c := New(10)
	resolve := c.RegisterTask("CLEAR")

	done := make(chan error, 1)
	go func() {
		done <- c.AwaitTask(context.Background(), "CLEAR")
	}()

	time.Sleep(10 * time.Millisecond)
	resolve(nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitTask did not return after resolve")
	}
}

func TestAwaitUnregisteredTaskReturnsImmediately(t *testing.T) {
	c := New(10)
	err := c.AwaitTask(context.Background(), "NOPE")
	assert.NoError(t, err)
}

func TestAwaitTaskRespectsContextCancellation(t *testing.T) {
	c := New(10)
	c.RegisterTask("CLEAR") // never resolved

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.AwaitTask(ctx, "CLEAR")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
