package storage

import (
	"context"
	"sync"

	"github.com/dreamware/onyx/internal/merge"
	"github.com/dreamware/onyx/internal/onyxval"
	syncbus "github.com/dreamware/onyx/internal/sync"
)

// MemoryDriver implements Storage entirely in RAM. It carries no
// persistence across restarts and is thread-safe via a single RWMutex.
// Values are stored and returned as given: maps and slices inside a
// Value are shared with the caller, not copied.
//
// MemoryDriver additionally implements SyncCapableStorage: when given a
// *sync.Bus it fans local writes out to peer instances and applies
// incoming remote writes directly to its map, bypassing the merge queue
// as spec §9 requires.
type MemoryDriver struct {
	data map[string]onyxval.Value
	mu   sync.RWMutex
	bus  *syncbus.Bus
}

// NewMemoryDriver creates an empty in-memory driver. bus may be nil if
// multi-instance sync is not needed.
func NewMemoryDriver(bus *syncbus.Bus) *MemoryDriver {
	return &MemoryDriver{data: make(map[string]onyxval.Value), bus: bus}
}

// Init is a no-op for the in-memory backend.
func (m *MemoryDriver) Init(ctx context.Context) error { return nil }

// GetItem returns the stored value for key.
func (m *MemoryDriver) GetItem(ctx context.Context, key string) (onyxval.Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// GetAllKeys returns every key currently stored.
func (m *MemoryDriver) GetAllKeys(ctx context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make(map[string]struct{}, len(m.data))
	for k := range m.data {
		keys[k] = struct{}{}
	}
	return keys, nil
}

// SetItem stores value for key, replacing any prior value.
func (m *MemoryDriver) SetItem(ctx context.Context, key string, value onyxval.Value) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	m.publish(ctx, key, value)
	return nil
}

// MultiSet stores every pair, replacing prior values.
func (m *MemoryDriver) MultiSet(ctx context.Context, pairs map[string]onyxval.Value) error {
	m.mu.Lock()
	for k, v := range pairs {
		m.data[k] = v
	}
	m.mu.Unlock()
	for k, v := range pairs {
		m.publish(ctx, k, v)
	}
	return nil
}

// MergeItem applies delta on top of the currently stored value. The
// in-memory driver understands nested-null deletion natively, so it
// recomputes the merge itself rather than trusting preMerged, except when
// shouldSetValue indicates there was no prior value to merge against.
func (m *MemoryDriver) MergeItem(ctx context.Context, key string, delta, preMerged onyxval.Value, shouldSetValue bool) error {
	m.mu.Lock()
	var result onyxval.Value
	if shouldSetValue {
		result = preMerged
	} else {
		existing := m.data[key]
		result = merge.Apply(existing, []onyxval.Value{delta}, true)
	}
	if result.IsNull() {
		delete(m.data, key)
	} else {
		m.data[key] = result
	}
	m.mu.Unlock()
	m.publish(ctx, key, result)
	return nil
}

// MultiMerge applies MergeItem semantics to every pair in one pass.
func (m *MemoryDriver) MultiMerge(ctx context.Context, pairs map[string]onyxval.Value) error {
	m.mu.Lock()
	results := make(map[string]onyxval.Value, len(pairs))
	for key, delta := range pairs {
		existing := m.data[key]
		result := merge.Apply(existing, []onyxval.Value{delta}, true)
		if result.IsNull() {
			delete(m.data, key)
		} else {
			m.data[key] = result
		}
		results[key] = result
	}
	m.mu.Unlock()
	for k, v := range results {
		m.publish(ctx, k, v)
	}
	return nil
}

// RemoveItems deletes every listed key.
func (m *MemoryDriver) RemoveItems(ctx context.Context, keys []string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.publish(ctx, k, onyxval.Nil)
	}
	return nil
}

// KeepInstancesSync wires onRemoteWrite into the driver's bus, and applies
// incoming remote writes directly to the map (bypassing any local merge
// logic, per spec §9).
func (m *MemoryDriver) KeepInstancesSync(ctx context.Context, onRemoteWrite func(key string, value onyxval.Value)) error {
	if m.bus == nil {
		return nil
	}
	m.bus.Subscribe(func(key string, value onyxval.Value) {
		m.mu.Lock()
		if value.IsNull() {
			delete(m.data, key)
		} else {
			m.data[key] = value
		}
		m.mu.Unlock()
		onRemoteWrite(key, value)
	})
	return nil
}

func (m *MemoryDriver) publish(ctx context.Context, key string, value onyxval.Value) {
	if m.bus != nil {
		m.bus.Publish(ctx, key, value)
	}
}

var (
	_ Storage            = (*MemoryDriver)(nil)
	_ SyncCapableStorage = (*MemoryDriver)(nil)
)
