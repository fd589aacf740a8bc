// Package onyx implements the write pipeline and merge engine for a
// reactive, persistent key-value store (spec.md §1): it reconciles
// optimistic in-memory cache updates with durable storage writes under
// concurrent Set/Merge/MergeCollection/SetCollection/Clear/Update
// operations, preserving ordering, subscriber-change semantics, and
// at-most-one in-flight merge fold per key.
//
// Storage backends, the subscriber/connection registry, and logging are
// pluggable collaborators (see internal/storage, internal/subscriber);
// this package only calls through their contracts.
package onyx

import (
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/dreamware/onyx/internal/cache"
	"github.com/dreamware/onyx/internal/collection"
	"github.com/dreamware/onyx/internal/mergequeue"
	"github.com/dreamware/onyx/internal/metrics"
	"github.com/dreamware/onyx/internal/onyxval"
	"github.com/dreamware/onyx/internal/storage"
	"github.com/dreamware/onyx/internal/subscriber"
)

// Value is the JSON-shaped payload every Onyx operation reads and writes.
// Re-exported from internal/onyxval so callers never need to import an
// internal package.
type Value = onyxval.Value

// Of classifies a raw Go value (as produced by encoding/json unmarshaling
// into interface{}) into a Value.
func Of(raw any) Value { return onyxval.Of(raw) }

// Nil is JSON null: at the top level of a write it means "delete this
// key"; nested inside an object delta it means "delete this field".
var Nil = onyxval.Nil

// Undefined is never stored and never propagated; a top-level Undefined
// passed to a write operation is a no-op.
var Undefined = onyxval.Undef

// Options configures a Store at construction time, matching spec §6's
// enumerated Init options.
type Options struct {
	// IndividualKeys and CollectionPrefixes declare the key registry.
	IndividualKeys     []string
	CollectionPrefixes []string

	// InitialKeyStates are the default values Clear restores keys to.
	InitialKeyStates map[string]Value

	// EvictableKeys are eligible for LRU eviction under storage pressure.
	EvictableKeys []string

	// MaxCachedKeysCount is handed to the cache, where a nonzero value
	// enables LRU eviction. Zero is replaced by 1000, so leaving it zero
	// does not disable eviction; set DisableEviction for that. The
	// recency list is not capped at this size.
	MaxCachedKeysCount int

	// DisableEviction explicitly turns off LRU eviction regardless of
	// MaxCachedKeysCount.
	DisableEviction bool

	// ShouldSyncMultipleInstances enables cross-instance sync when the
	// driver implements storage.SyncCapableStorage.
	ShouldSyncMultipleInstances bool

	// DebugSetState enables verbose cache-write logging.
	DebugSetState bool

	// EnablePerformanceMetrics wraps public operations with timing
	// decorators (internal/metrics).
	EnablePerformanceMetrics bool

	// SkippableCollectionMemberIDs coerce writes to these member ids to
	// null (deletion), used to blacklist specific collection instances.
	SkippableCollectionMemberIDs []string

	// FullyMergedSnapshotKeys are keys whose snapshot subscribers want
	// the fully materialized value rather than the delta form.
	FullyMergedSnapshotKeys []string

	// Storage is the pluggable blob-storage driver. Defaults to a fresh
	// storage.MemoryDriver if nil.
	Storage storage.Storage

	// Subscribers is the subscriber/connection registry. Defaults to a
	// fresh subscriber.Registry if nil.
	Subscribers *subscriber.Registry

	// Logger receives diagnostic events (incompatible updates, storage
	// failures). Defaults to a logger writing to stderr.
	Logger zerolog.Logger
}

// Store is one instance of the reactive key-value store: a cache, a
// merge queue, a storage driver, and a subscriber registry, wired
// together behind the operation methods in op_*.go. Construction is an
// explicit seam (spec DESIGN NOTES "Global state"): every Store comes from
// New, and the package keeps no default instance of its own.
type Store struct {
	cache       *cache.Cache
	mq          *mergequeue.Queue
	storage     storage.Storage
	subs        *subscriber.Registry
	collections *collection.Registry
	metricsRec  *metrics.Recorder
	log         zerolog.Logger

	defaultKeyStates        map[string]Value
	fullyMergedSnapshotKeys map[string]struct{}
	debugSetState           bool
}

const defaultMaxCachedKeysCount = 1000

// New constructs and initializes a Store from opts.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Storage == nil {
		opts.Storage = storage.NewMemoryDriver(nil)
	}
	if opts.Subscribers == nil {
		opts.Subscribers = subscriber.New()
	}
	if isZeroLogger(opts.Logger) {
		opts.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "onyx").Logger()
	}

	maxCached := opts.MaxCachedKeysCount
	if opts.DisableEviction {
		maxCached = 0
	} else if maxCached == 0 {
		maxCached = defaultMaxCachedKeysCount
	}

	defaultStates := make(map[string]Value, len(opts.InitialKeyStates))
	for k, v := range opts.InitialKeyStates {
		defaultStates[k] = v
	}

	fullyMerged := make(map[string]struct{}, len(opts.FullyMergedSnapshotKeys))
	for _, k := range opts.FullyMergedSnapshotKeys {
		fullyMerged[k] = struct{}{}
	}

	s := &Store{
		cache:                   cache.New(maxCached),
		storage:                 opts.Storage,
		subs:                    opts.Subscribers,
		collections:             collection.NewRegistry(opts.CollectionPrefixes, opts.SkippableCollectionMemberIDs),
		metricsRec:              metrics.NewRecorder(opts.EnablePerformanceMetrics),
		log:                     opts.Logger,
		defaultKeyStates:        defaultStates,
		fullyMergedSnapshotKeys: fullyMerged,
		debugSetState:           opts.DebugSetState,
	}
	s.cache.MarkEvictable(opts.EvictableKeys...)
	s.mq = mergequeue.New((*backend)(s), opts.Logger)

	if err := s.storage.Init(ctx); err != nil {
		return nil, fmt.Errorf("onyx: init storage: %w", err)
	}

	if opts.ShouldSyncMultipleInstances {
		if syncable, ok := s.storage.(storage.SyncCapableStorage); ok {
			if err := syncable.KeepInstancesSync(ctx, s.onRemoteWrite); err != nil {
				return nil, fmt.Errorf("onyx: keepInstancesSync: %w", err)
			}
		}
	}

	return s, nil
}

func isZeroLogger(l zerolog.Logger) bool {
	return reflect.ValueOf(l).IsZero()
}

// onRemoteWrite applies a write delivered by another instance directly to
// the cache, bypassing the merge queue by design (spec §9
// "Multi-instance sync": "it represents an already-committed state").
func (s *Store) onRemoteWrite(key string, value Value) {
	if value.IsNull() {
		s.cache.Remove(key)
	} else {
		s.cache.Set(key, value)
	}
	ctx := context.Background()
	_ = s.subs.ScheduleSubscriberUpdate(ctx, key, value, Undefined)
	if s.debugSetState {
		s.log.Debug().Str("key", key).Msg("applied remote write from multi-instance sync")
	}
}

// Get returns the value for key, reading through the cache to storage on
// a miss and populating the cache from that read, per spec §3's
// lifecycle ("cache populated on first read").
func (s *Store) Get(ctx context.Context, key string) (Value, bool, error) {
	return (*backend)(s).Get(ctx, key)
}

// Stats returns a snapshot of cache bookkeeping (evictions, key counts),
// a supplemented observability surface grounded on the ShardStats
// pattern.
func (s *Store) Stats() cache.Stats { return s.cache.Stats() }

// SessionID returns the current correlation token, refreshed by Clear.
func (s *Store) SessionID() string { return s.subs.SessionID() }

// Connect subscribes cb to changes on key, returning a handle accepted by
// Disconnect.
func (s *Store) Connect(key string, cb subscriber.KeyCallback) uint64 {
	return s.subs.Connect(key, cb)
}

// Disconnect removes a subscription previously returned by Connect.
func (s *Store) Disconnect(key string, id uint64) { s.subs.Disconnect(key, id) }

// ConnectCollection subscribes cb to changes on every member of
// collectionKey.
func (s *Store) ConnectCollection(collectionKey string, cb subscriber.CollectionCallback) uint64 {
	return s.subs.ConnectCollection(collectionKey, cb)
}

// DisconnectCollection removes a subscription previously returned by
// ConnectCollection.
func (s *Store) DisconnectCollection(collectionKey string, id uint64) {
	s.subs.DisconnectCollection(collectionKey, id)
}

// Close stops the subscriber registry's dispatch goroutine. Callers that
// construct a Store for the lifetime of a process don't need to call
// this; tests and short-lived tools should, so goroutine-leak checks
// stay clean.
func (s *Store) Close() { s.subs.Stop() }
