package subscriber

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/onyx/internal/onyxval"
)

func TestBroadcastUpdateSkipsUnchanged(t *testing.T) {
	r := New()
	defer r.Stop()

	var mu sync.Mutex
	var calls int
	r.Connect("k1", func(ctx context.Context, key string, value onyxval.Value) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	require.NoError(t, r.BroadcastUpdate(context.Background(), "k1", onyxval.Of("v1"), false))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, calls, "hasChanged=false must not notify")
	mu.Unlock()

	require.NoError(t, r.BroadcastUpdate(context.Background(), "k1", onyxval.Of("v1"), true))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestConnectDisconnect(t *testing.T) {
	r := New()
	defer r.Stop()

	var calls int
	var mu sync.Mutex
	id := r.Connect("k1", func(ctx context.Context, key string, value onyxval.Value) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	r.Disconnect("k1", id)
	require.NoError(t, r.ScheduleSubscriberUpdate(context.Background(), "k1", onyxval.Of("v1"), onyxval.Undef))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, calls, "a disconnected subscriber must not be notified")
	mu.Unlock()
}

func TestScheduleNotifyCollectionSubscribers(t *testing.T) {
	r := New()
	defer r.Stop()

	received := make(chan map[string]onyxval.Value, 1)
	r.ConnectCollection("report_", func(ctx context.Context, collectionKey string, members, previous map[string]onyxval.Value) {
		received <- members
	})

	members := map[string]onyxval.Value{"report_1": onyxval.Of("v1")}
	require.NoError(t, r.ScheduleNotifyCollectionSubscribers(context.Background(), "report_", members, nil))

	select {
	case got := <-received:
		assert.Equal(t, members, got)
	case <-time.After(time.Second):
		t.Fatal("collection subscriber was not notified")
	}
}

func TestRefreshSessionIDChanges(t *testing.T) {
	r := New()
	defer r.Stop()

	before := r.SessionID()
	after := r.RefreshSessionID()
	assert.NotEqual(t, before, after)
	assert.Equal(t, after, r.SessionID())
}

func TestEveryScheduledUpdateIsDelivered(t *testing.T) {
	r := New()
	defer r.Stop()

	var mu sync.Mutex
	var seen []onyxval.Value
	r.Connect("k1", func(ctx context.Context, key string, value onyxval.Value) {
		mu.Lock()
		seen = append(seen, value)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, r.ScheduleSubscriberUpdate(context.Background(), "k1", onyxval.Of(float64(i)), onyxval.Undef))
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3, "every scheduled update is eventually delivered")
}
