// Package subscriber implements the subscriber/connection registry spec.md
// declares as an external collaborator specified only by its contract
// (§6): broadcastUpdate, scheduleSubscriberUpdate, and
// scheduleNotifyCollectionSubscribers. Dispatch is deferred onto a single
// drain goroutine per Registry, the same ticker-goroutine shape as
// HealthMonitor (internal/coordinator/health_monitor.go). Each scheduled
// notification is a separate delivery, run in the order it was scheduled;
// several writes to the same key are not merged into one.
package subscriber

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dreamware/onyx/internal/onyxval"
)

// KeyCallback is invoked when a single key's value changes.
type KeyCallback func(ctx context.Context, key string, value onyxval.Value)

// CollectionCallback is invoked when a collection's members change, with
// both the merged members and (if available) their previous values.
type CollectionCallback func(ctx context.Context, collectionKey string, members, previous map[string]onyxval.Value)

// Registry is the in-memory implementation of the subscriber contract and
// the only collaborator the write pipeline depends on for notification.
// onyx.Options takes a *Registry, so the store cannot be given a different
// type with the same methods.
type Registry struct {
	mu           sync.RWMutex
	byKey        map[string]map[uint64]KeyCallback
	byCollection map[string]map[uint64]CollectionCallback
	nextID       uint64

	tasks chan func()
	done  chan struct{}

	sessionID string
}

// New creates a Registry and starts its dispatch goroutine. Stop must be
// called to release it.
func New() *Registry {
	r := &Registry{
		byKey:        make(map[string]map[uint64]KeyCallback),
		byCollection: make(map[string]map[uint64]CollectionCallback),
		tasks:        make(chan func(), 256),
		done:         make(chan struct{}),
		sessionID:    uuid.NewString(),
	}
	go r.drain()
	return r
}

// drain is the single goroutine that executes scheduled notifications
// one at a time, in the order they were scheduled, so delivery happens
// after the scheduling write returns. It does not merge notifications:
// every scheduled one is delivered.
func (r *Registry) drain() {
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-r.done:
			return
		}
	}
}

// Stop shuts down the dispatch goroutine.
func (r *Registry) Stop() { close(r.done) }

// Connect registers cb for notifications on key and returns a handle that
// Disconnect accepts, supplementing spec.md's out-of-scope "connection
// registry" with the minimal subscription API the core needs to drive.
func (r *Registry) Connect(key string, cb KeyCallback) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.byKey[key] == nil {
		r.byKey[key] = make(map[uint64]KeyCallback)
	}
	r.byKey[key][id] = cb
	return id
}

// Disconnect removes a subscription previously returned by Connect.
func (r *Registry) Disconnect(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey[key], id)
}

// ConnectCollection registers cb for notifications on collectionKey.
func (r *Registry) ConnectCollection(collectionKey string, cb CollectionCallback) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.byCollection[collectionKey] == nil {
		r.byCollection[collectionKey] = make(map[uint64]CollectionCallback)
	}
	r.byCollection[collectionKey][id] = cb
	return id
}

// DisconnectCollection removes a subscription previously returned by
// ConnectCollection.
func (r *Registry) DisconnectCollection(collectionKey string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byCollection[collectionKey], id)
}

// BroadcastUpdate notifies key's subscribers of value, used by the merge
// queue's optimistic broadcast (spec §4.3 step 10). Per invariant 2, a
// subscriber is only actually invoked when hasChanged is true.
func (r *Registry) BroadcastUpdate(ctx context.Context, key string, value onyxval.Value, hasChanged bool) error {
	if !hasChanged {
		return nil
	}
	r.schedule(ctx, key, value)
	return nil
}

// ScheduleSubscriberUpdate notifies key's subscribers of a direct set/
// multiSet write (spec §4.4-4.5). prevValue is accepted but not passed
// on: a KeyCallback receives only the new value.
func (r *Registry) ScheduleSubscriberUpdate(ctx context.Context, key string, value, prevValue onyxval.Value) error {
	r.schedule(ctx, key, value)
	return nil
}

func (r *Registry) schedule(ctx context.Context, key string, value onyxval.Value) {
	r.mu.RLock()
	cbs := make([]KeyCallback, 0, len(r.byKey[key]))
	for _, cb := range r.byKey[key] {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()

	if len(cbs) == 0 {
		return
	}
	select {
	case r.tasks <- func() {
		for _, cb := range cbs {
			cb(ctx, key, value)
		}
	}:
	case <-ctx.Done():
	}
}

// ScheduleNotifyCollectionSubscribers notifies collectionKey's
// subscribers of the merged members and their previous values (spec
// §4.6-4.7).
func (r *Registry) ScheduleNotifyCollectionSubscribers(ctx context.Context, collectionKey string, members, previous map[string]onyxval.Value) error {
	r.mu.RLock()
	cbs := make([]CollectionCallback, 0, len(r.byCollection[collectionKey]))
	for _, cb := range r.byCollection[collectionKey] {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()

	if len(cbs) == 0 {
		return nil
	}
	select {
	case r.tasks <- func() {
		for _, cb := range cbs {
			cb(ctx, collectionKey, members, previous)
		}
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RefreshSessionID invalidates the correlation token held by the registry
// after a clear (spec §4.8 step 4), returning the new id.
func (r *Registry) RefreshSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = uuid.NewString()
	return r.sessionID
}

// SessionID returns the current correlation token.
func (r *Registry) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}
