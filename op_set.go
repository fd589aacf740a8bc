package onyx

import (
	"context"

	"github.com/dreamware/onyx/internal/merge"
	"github.com/dreamware/onyx/internal/metrics"
	"github.com/dreamware/onyx/internal/onyxval"
)

// Set replaces key's value wholesale (spec §4.4). A top-level Undefined
// value is a no-op; a top-level Null value removes the key from cache
// and storage. Set always wins over a concurrently in-flight Merge fold
// for the same key.
func (s *Store) Set(ctx context.Context, key string, value Value) error {
	return s.metricsRec.Observe("set", func() error {
		return s.set(ctx, key, value)
	})
}

func (s *Store) set(ctx context.Context, key string, value Value) error {
	// Step 1: set wins over any in-flight merge fold.
	s.mq.Abort(key)

	// Step 2: skippable collection members are coerced to deletion.
	if s.collections.IsSkippableKey(key) {
		value = onyxval.Nil
	}

	// Step 3: undefined is always a no-op.
	if value.IsUndefined() {
		return nil
	}

	existing, hadEntry := s.cache.Get(key)

	// Step 4: nothing to remove if the key was never cached.
	if !hadEntry && value.IsNull() {
		return nil
	}

	// Step 5: compatibility check against the cached value.
	existingForCompat := existing
	if !hadEntry {
		existingForCompat = onyxval.Undef
	}
	if res := onyxval.Check(value, existingForCompat); !res.Compatible {
		metrics.IncompatibleUpdatesTotal.WithLabelValues("set").Inc()
		s.log.Warn().Str("key", key).Msg("set: incompatible value shape, dropping")
		return nil
	}

	// Step 6: strip nested nulls to the materialized form; a top-level
	// null removes the key outright. An object whose every field is null
	// normalizes to an empty object and is written as such.
	normalized := merge.Apply(onyxval.Undef, []Value{value}, true)
	if normalized.IsNull() {
		s.cache.Remove(key)
		_ = s.subs.ScheduleSubscriberUpdate(ctx, key, onyxval.Undef, existing)
		return s.withEvictRetry(ctx, func() error {
			return s.storage.RemoveItems(ctx, []string{key})
		})
	}

	// Step 7: optimistic broadcast.
	hasChanged := s.cache.HasValueChanged(key, normalized)
	s.cache.Set(key, normalized)
	_ = s.subs.ScheduleSubscriberUpdate(ctx, key, normalized, existing)

	// Step 8: skip the storage write entirely when nothing changed.
	if !hasChanged {
		return nil
	}
	return s.withEvictRetry(ctx, func() error {
		return s.storage.SetItem(ctx, key, normalized)
	})
}

// MultiSet replaces several keys' values wholesale in one batch (spec
// §4.5).
func (s *Store) MultiSet(ctx context.Context, data map[string]Value) error {
	return s.metricsRec.Observe("multiSet", func() error {
		return s.multiSet(ctx, data)
	})
}

func (s *Store) multiSet(ctx context.Context, data map[string]Value) error {
	toWrite := make(map[string]Value, len(data))
	toRemove := make([]string, 0)

	for key, value := range data {
		s.mq.Abort(key)
		if s.collections.IsSkippableKey(key) {
			value = onyxval.Nil
		}
		if value.IsUndefined() {
			continue
		}

		existing, hadEntry := s.cache.Get(key)
		normalized := merge.Apply(onyxval.Undef, []Value{value}, true)

		if normalized.IsNull() {
			if !hadEntry {
				continue
			}
			s.cache.Remove(key)
			toRemove = append(toRemove, key)
			_ = s.subs.ScheduleSubscriberUpdate(ctx, key, onyxval.Undef, existing)
			continue
		}

		if !s.cache.HasValueChanged(key, normalized) {
			continue
		}
		s.cache.Set(key, normalized)
		toWrite[key] = normalized
		_ = s.subs.ScheduleSubscriberUpdate(ctx, key, normalized, existing)
	}

	if len(toRemove) > 0 {
		if err := s.withEvictRetry(ctx, func() error {
			return s.storage.RemoveItems(ctx, toRemove)
		}); err != nil {
			return err
		}
	}
	if len(toWrite) == 0 {
		return nil
	}
	return s.withEvictRetry(ctx, func() error {
		return s.storage.MultiSet(ctx, toWrite)
	})
}
