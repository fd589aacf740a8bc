// Package cache implements the in-memory snapshot of key -> value state
// described in spec §3: recency tracking for LRU eviction, change
// detection, nullish-key bookkeeping (keys confirmed absent vs never
// read), and a map of named pending tasks (e.g. "CLEAR") that other
// operations may await.
//
// Cache is safe for concurrent use. Values are stored and returned as
// given: maps and slices inside a returned Value are shared with the
// cache, not copied.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/dreamware/onyx/internal/onyxval"
)

// Stats is a point-in-time snapshot of cache bookkeeping, mirroring the
// ShardStats/OperationStats pattern.
type Stats struct {
	KeysCached  int
	NullishKeys int
	Evictions   uint64
}

// Cache is the key -> value map backing one Onyx store instance; each
// Store creates its own. A key is present in the cache iff its most recently committed
// write had a non-Undefined value (spec §3 invariant).
type Cache struct {
	values      map[string]onyxval.Value
	recencyElem map[string]*list.Element
	nullish     map[string]struct{}
	evictable   map[string]struct{}
	pending     map[string]*pendingTask

	recency *list.List // front = most recently used

	mu sync.RWMutex

	maxCachedKeysCount int
	evictions          uint64
}

// pendingTask is a named long-running operation (spec §3's "pending-task
// map"), e.g. the promise registered by Clear, that other operations may
// await via AwaitTask.
type pendingTask struct {
	done chan struct{}
	err  error
}

// New creates an empty Cache. maxCachedKeysCount == 0 disables EvictLRU;
// any other value enables it. The recency list is not capped at
// maxCachedKeysCount: it holds every cached key.
func New(maxCachedKeysCount int) *Cache {
	return &Cache{
		values:             make(map[string]onyxval.Value),
		recencyElem:        make(map[string]*list.Element),
		nullish:            make(map[string]struct{}),
		evictable:          make(map[string]struct{}),
		pending:            make(map[string]*pendingTask),
		recency:            list.New(),
		maxCachedKeysCount: maxCachedKeysCount,
	}
}

// MarkEvictable declares key as eligible for LRU eviction under storage
// pressure (spec §6 evictableKeys). Must be called during init, before
// the key is ever written.
func (c *Cache) MarkEvictable(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.evictable[k] = struct{}{}
	}
}

// Get returns the cached value for key and whether it is present. A hit
// moves key to the front of the recency list.
func (c *Cache) Get(key string) (onyxval.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if ok {
		c.touchLocked(key)
	}
	return v, ok
}

// IsNullish reports whether key is known to hold null in storage, as
// opposed to never having been read (spec §3 nullish-key set).
func (c *Cache) IsNullish(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nullish[key]
	return ok
}

// HasValueChanged reports true iff v differs structurally from the
// cached value for key, or key is uncached (spec §3).
func (c *Cache) HasValueChanged(key string, v onyxval.Value) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	existing, ok := c.values[key]
	if !ok {
		return true
	}
	return !onyxval.Equal(existing, v)
}

// Set stores v for key and touches its recency entry. A Null value is
// still representable (the key stays "present"); callers that want to
// remove a key entirely must call Remove.
func (c *Cache) Set(key string, v onyxval.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
	if v.IsNull() {
		c.nullish[key] = struct{}{}
	} else {
		delete(c.nullish, key)
	}
	c.touchLocked(key)
}

// Remove deletes key from the cache entirely (used by set(key, null) and
// clear's removal set, spec §4.4/§4.8).
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	delete(c.nullish, key)
	if elem, ok := c.recencyElem[key]; ok {
		c.recency.Remove(elem)
		delete(c.recencyElem, key)
	}
}

// touchLocked moves key to the front of the recency list, called with mu
// already held.
func (c *Cache) touchLocked(key string) {
	if elem, ok := c.recencyElem[key]; ok {
		c.recency.MoveToFront(elem)
		return
	}
	elem := c.recency.PushFront(key)
	c.recencyElem[key] = elem
}

// EvictLRU drops the least-recently-used evictable key from the cache and
// reports it so the caller can also remove it from durable storage (spec
// §7 evictStorageAndRetry). Returns ok=false if no evictable key exists or
// eviction is disabled (maxCachedKeysCount == 0).
func (c *Cache) EvictLRU() (key string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxCachedKeysCount == 0 {
		return "", false
	}
	for elem := c.recency.Back(); elem != nil; elem = elem.Prev() {
		k := elem.Value.(string)
		if _, evictable := c.evictable[k]; !evictable {
			continue
		}
		c.recency.Remove(elem)
		delete(c.recencyElem, k)
		delete(c.values, k)
		delete(c.nullish, k)
		c.evictions++
		return k, true
	}
	return "", false
}

// Stats returns a snapshot of cache bookkeeping.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		KeysCached:  len(c.values),
		NullishKeys: len(c.nullish),
		Evictions:   c.evictions,
	}
}

// RegisterTask records a named pending task (spec §3, e.g. "CLEAR") and
// returns a resolve function the caller must invoke exactly once when the
// task completes. Concurrent writers may call AwaitTask with the same
// name to serialize relative to it.
func (c *Cache) RegisterTask(name string) (resolve func(err error)) {
	c.mu.Lock()
	t := &pendingTask{done: make(chan struct{})}
	c.pending[name] = t
	c.mu.Unlock()

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			t.err = err
			close(t.done)
			c.mu.Lock()
			if c.pending[name] == t {
				delete(c.pending, name)
			}
			c.mu.Unlock()
		})
	}
}

// AwaitTask blocks until the named pending task (if any is currently
// registered) resolves, or ctx is canceled. Awaiting an unregistered name
// returns immediately with a nil error; this is advisory, not enforced
// (spec §5 "Pending task capture").
func (c *Cache) AwaitTask(ctx context.Context, name string) error {
	c.mu.RLock()
	t, ok := c.pending[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
