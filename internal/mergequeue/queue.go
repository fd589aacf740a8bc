// Package mergequeue implements the per-key merge fold described in spec
// §4.3: an ordered list of deltas per key and a single in-flight fold,
// guaranteeing at most one storage read and one storage write per key no
// matter how many deltas were coalesced into the batch.
//
// The single-flight property below is the same shape as
// golang.org/x/sync/singleflight's duplicate-call suppression, but the
// fold needs to keep accepting new deltas into the *same* batch while a
// read is outstanding (singleflight only dedups identical calls, it can't
// grow the in-flight call's input), so the per-key entry and its delta
// list are tracked directly rather than through singleflight.Group.
package mergequeue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dreamware/onyx/internal/merge"
	"github.com/dreamware/onyx/internal/onyxval"
)

// Backend is the set of collaborators the fold needs: a cache-or-storage
// reader, cache mutation, subscriber broadcast, and the storage driver's
// merge/remove calls. Queue depends only on this interface so it can be
// unit-tested without a real store.
type Backend interface {
	// Get returns the existing value for key, reading through the cache
	// to storage on a miss (spec §4.3 step 1).
	Get(ctx context.Context, key string) (value onyxval.Value, existed bool, err error)

	// HasValueChanged reports whether preMerged differs from the
	// currently cached value for key (spec §4.3 step 10).
	HasValueChanged(key string, preMerged onyxval.Value) bool

	// ApplyCache writes preMerged into the cache for key.
	ApplyCache(key string, preMerged onyxval.Value)

	// RemoveCache drops key from the cache entirely.
	RemoveCache(key string)

	// Broadcast notifies subscribers of key's new value.
	Broadcast(ctx context.Context, key string, value onyxval.Value, hasChanged bool) error

	// StorageMergeItem issues the driver's mergeItem call.
	StorageMergeItem(ctx context.Context, key string, delta, preMerged onyxval.Value, shouldSetValue bool) error

	// StorageRemoveItems issues the driver's removeItems call.
	StorageRemoveItems(ctx context.Context, keys []string) error
}

// entry is the per-key queue state: the accumulated deltas awaiting fold,
// and the abort flag a concurrent set() uses to cancel this fold's effect
// (spec §4.3 "abort", §9 "Cancellation of in-flight merges").
type entry struct {
	deltas  []onyxval.Value
	done    chan struct{}
	err     error
	aborted atomic.Bool
}

// Queue is the per-key merge fold engine for one Onyx store instance.
type Queue struct {
	backend Backend
	log     zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Queue bound to backend.
func New(backend Backend, log zerolog.Logger) *Queue {
	return &Queue{backend: backend, log: log, entries: make(map[string]*entry)}
}

// Enqueue appends delta to key's pending batch, starting a new fold if
// none is currently in flight, and blocks until that fold (the one this
// delta ends up part of) resolves. Spec §4.3: "if no entry, create
// [delta] and schedule a fold; else append and return the existing
// promise."
func (q *Queue) Enqueue(ctx context.Context, key string, delta onyxval.Value) error {
	q.mu.Lock()
	if e, ok := q.entries[key]; ok {
		e.deltas = append(e.deltas, delta)
		q.mu.Unlock()
		return wait(ctx, e)
	}
	e := &entry{deltas: []onyxval.Value{delta}, done: make(chan struct{})}
	q.entries[key] = e
	q.mu.Unlock()

	go q.fold(ctx, key, e)
	return wait(ctx, e)
}

// wait blocks until e resolves or ctx is canceled.
func wait(ctx context.Context, e *entry) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels whatever fold is currently in flight for key, per spec
// §4.3/§4.4 step 1: "set wins; the in-flight fold will see the abort
// marker." A no-op if nothing is queued for key.
func (q *Queue) Abort(key string) {
	q.mu.Lock()
	e, ok := q.entries[key]
	if ok {
		delete(q.entries, key)
	}
	q.mu.Unlock()
	if ok {
		e.aborted.Store(true)
	}
}

// HasPending reports whether key currently has a queue entry (in-flight
// or awaiting fold).
func (q *Queue) HasPending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[key]
	return ok
}

// fold runs the single-flight reduction for key described in spec §4.3,
// steps 1-12.
func (q *Queue) fold(ctx context.Context, key string, e *entry) {
	existingVal, existed, err := q.backend.Get(ctx, key)
	if err != nil {
		q.release(key, e)
		q.finish(e, err)
		return
	}
	// Step 2: recheck after the suspension point above.
	if e.aborted.Load() {
		q.finish(e, nil)
		return
	}

	// Steps 3 and 7: take the batch and remove the entry in one critical
	// section, before any storage call. Every delta appended before this
	// point is in the batch; an Enqueue arriving after it starts a fresh
	// fold.
	q.mu.Lock()
	deltas := append([]onyxval.Value(nil), e.deltas...)
	if cur, ok := q.entries[key]; ok && cur == e {
		delete(q.entries, key)
	}
	q.mu.Unlock()

	existingForCompat := existingVal
	if !existed {
		existingForCompat = onyxval.Undef
	}

	valid := make([]onyxval.Value, 0, len(deltas))
	anyTopLevelNull := false
	for _, d := range deltas {
		res := onyxval.Check(d, existingForCompat)
		if !res.Compatible {
			q.log.Warn().Str("key", key).
				Str("existingKind", kindName(res.ExistingKind)).
				Str("newKind", kindName(res.NewKind)).
				Msg("dropping incompatible merge delta")
			continue
		}
		valid = append(valid, d)
		if d.IsNull() {
			anyTopLevelNull = true
		}
	}

	// Step 4: nothing survived compatibility filtering.
	if len(valid) == 0 {
		q.finish(e, nil)
		return
	}

	batchedDelta := merge.Apply(onyxval.Undef, valid, false)
	shouldSetValue := !existed || anyTopLevelNull

	if e.aborted.Load() {
		q.finish(e, nil)
		return
	}

	// Step 8: a top-level null delta deletes the key outright.
	if batchedDelta.IsNull() {
		removeErr := q.backend.StorageRemoveItems(ctx, []string{key})
		q.backend.RemoveCache(key)
		_ = q.backend.Broadcast(ctx, key, onyxval.Undef, true)
		q.finish(e, removeErr)
		return
	}

	base := existingVal
	if shouldSetValue {
		base = onyxval.Undef
	}
	preMerged := merge.Apply(base, []onyxval.Value{batchedDelta}, true)

	changed := q.backend.HasValueChanged(key, preMerged)
	q.backend.ApplyCache(key, preMerged)
	_ = q.backend.Broadcast(ctx, key, preMerged, changed)

	if !changed {
		q.finish(e, nil)
		return
	}

	writeErr := q.backend.StorageMergeItem(ctx, key, batchedDelta, preMerged, shouldSetValue)
	q.finish(e, writeErr)
}

// release removes e from the queue if it is still key's current entry.
func (q *Queue) release(key string, e *entry) {
	q.mu.Lock()
	if cur, ok := q.entries[key]; ok && cur == e {
		delete(q.entries, key)
	}
	q.mu.Unlock()
}

func (q *Queue) finish(e *entry, err error) {
	e.err = err
	close(e.done)
}

func kindName(k onyxval.Kind) string {
	switch k {
	case onyxval.Undefined:
		return "undefined"
	case onyxval.Null:
		return "null"
	case onyxval.Bool:
		return "bool"
	case onyxval.Number:
		return "number"
	case onyxval.String:
		return "string"
	case onyxval.Array:
		return "array"
	case onyxval.Object:
		return "object"
	default:
		return "unknown"
	}
}
