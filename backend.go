package onyx

import (
	"context"

	"github.com/dreamware/onyx/internal/onyxval"
)

// backend adapts *Store to mergequeue.Backend. It is a distinct named
// type (rather than methods directly on Store) so the fold's narrow
// collaborator surface stays visible at the call site in onyx.go:
// mergequeue.New((*backend)(s), ...).
type backend Store

func (b *backend) store() *Store { return (*Store)(b) }

// Get reads through the cache to storage on a miss, populating the cache
// from that read (spec §3, §4.3 step 1).
func (b *backend) Get(ctx context.Context, key string) (onyxval.Value, bool, error) {
	s := b.store()
	if v, ok := s.cache.Get(key); ok {
		return v, true, nil
	}
	v, ok, err := s.storage.GetItem(ctx, key)
	if err != nil {
		return onyxval.Undef, false, err
	}
	if !ok {
		return onyxval.Undef, false, nil
	}
	s.cache.Set(key, v)
	return v, true, nil
}

func (b *backend) HasValueChanged(key string, preMerged onyxval.Value) bool {
	return b.store().cache.HasValueChanged(key, preMerged)
}

func (b *backend) ApplyCache(key string, preMerged onyxval.Value) {
	b.store().cache.Set(key, preMerged)
}

func (b *backend) RemoveCache(key string) {
	b.store().cache.Remove(key)
}

func (b *backend) Broadcast(ctx context.Context, key string, value onyxval.Value, hasChanged bool) error {
	return b.store().subs.BroadcastUpdate(ctx, key, value, hasChanged)
}

func (b *backend) StorageMergeItem(ctx context.Context, key string, delta, preMerged onyxval.Value, shouldSetValue bool) error {
	s := b.store()
	return s.withEvictRetry(ctx, func() error {
		return s.storage.MergeItem(ctx, key, delta, preMerged, shouldSetValue)
	})
}

func (b *backend) StorageRemoveItems(ctx context.Context, keys []string) error {
	s := b.store()
	return s.withEvictRetry(ctx, func() error {
		return s.storage.RemoveItems(ctx, keys)
	})
}

// withEvictRetry runs fn once, and on failure evicts one LRU-evictable key
// from the cache and retries exactly once more, per spec §7
// "evictStorageAndRetry": a storage failure that looks like resource
// exhaustion (a full IndexedDB-equivalent in the original design) is
// given one chance to succeed after freeing cache-adjacent space. The
// evicted key is also dropped from storage so the two stay consistent.
func (s *Store) withEvictRetry(ctx context.Context, fn func() error) error {
	err := fn()
	for attempt := 0; err != nil && attempt < maxEvictRetries; attempt++ {
		key, ok := s.cache.EvictLRU()
		if !ok {
			return err
		}
		s.log.Warn().Str("evictedKey", key).Err(err).Msg("storage op failed, evicted LRU key and retrying once")
		if removeErr := s.storage.RemoveItems(ctx, []string{key}); removeErr != nil {
			s.log.Warn().Str("evictedKey", key).Err(removeErr).Msg("failed to remove evicted key from storage")
		}
		err = fn()
	}
	return err
}
