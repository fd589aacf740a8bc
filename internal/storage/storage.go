// Package storage defines the pluggable blob-storage contract Onyx writes
// through (spec §6) and provides two concrete backends: MemoryDriver (the
// default, non-persistent) and BoltDriver (durable, backed by
// go.etcd.io/bbolt). The write pipeline in the root onyx package never
// assumes a specific backend; it only calls through the Storage interface.
package storage

import (
	"context"
	"errors"

	"github.com/dreamware/onyx/internal/onyxval"
)

// ErrKeyNotFound names a missing key. Neither MemoryDriver nor BoltDriver
// returns it: their GetItem reports an absent key with ok=false and a nil
// error.
var ErrKeyNotFound = errors.New("storage: key not found")

// Storage is the pluggable driver contract external to the merge engine
// (spec §6). Every method may block and may fail; the write pipeline
// treats a returned error as a storage failure subject to
// evictStorageAndRetry (spec §7).
type Storage interface {
	// Init prepares the backend (opening files, connecting, etc).
	Init(ctx context.Context) error

	// GetItem returns the stored value for key, or ok=false if absent.
	GetItem(ctx context.Context, key string) (value onyxval.Value, ok bool, err error)

	// GetAllKeys returns the set of every key currently stored.
	GetAllKeys(ctx context.Context) (map[string]struct{}, error)

	// SetItem writes value for key, replacing any prior value wholesale.
	SetItem(ctx context.Context, key string, value onyxval.Value) error

	// MultiSet writes every pair, replacing prior values wholesale.
	MultiSet(ctx context.Context, pairs map[string]onyxval.Value) error

	// MergeItem merges delta into key's stored value. shouldSetValue tells
	// the driver it may simply write preMerged instead of computing its
	// own merge, because the caller has already determined the key had no
	// prior value (or was explicitly nulled first). Drivers that cannot
	// merge natively should always use preMerged.
	MergeItem(ctx context.Context, key string, delta, preMerged onyxval.Value, shouldSetValue bool) error

	// MultiMerge merges each pair's delta into its key's stored value,
	// preserving nested-null deletion markers (spec §4.6 step 5).
	MultiMerge(ctx context.Context, pairs map[string]onyxval.Value) error

	// RemoveItems deletes every listed key. Idempotent.
	RemoveItems(ctx context.Context, keys []string) error
}

// SyncCapableStorage is implemented by drivers that can notify the store
// of writes made by other instances (spec §6 keepInstancesSync). This is
// optional: most drivers only implement Storage.
type SyncCapableStorage interface {
	Storage

	// KeepInstancesSync registers onRemoteWrite to be called whenever
	// another instance commits a write this instance should observe. The
	// callback bypasses the merge queue by design (spec §9
	// "Multi-instance sync"): it represents an already-committed remote
	// state, and the last delivery wins.
	KeepInstancesSync(ctx context.Context, onRemoteWrite func(key string, value onyxval.Value)) error
}
