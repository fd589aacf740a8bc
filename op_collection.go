package onyx

import (
	"context"
	"strings"

	"github.com/dreamware/onyx/internal/collection"
	"github.com/dreamware/onyx/internal/merge"
	"github.com/dreamware/onyx/internal/metrics"
	"github.com/dreamware/onyx/internal/onyxval"
)

// MergeCollection folds a batch of per-member deltas into an entire
// collection in one call (spec §4.6): existing members are merged via
// Storage.MultiMerge, brand-new members are written via Storage.MultiSet,
// and null-valued members are removed outright.
func (s *Store) MergeCollection(ctx context.Context, collectionKey string, members map[string]Value) error {
	return s.metricsRec.Observe("mergeCollection", func() error {
		return s.mergeCollection(ctx, collectionKey, members)
	})
}

func (s *Store) mergeCollection(ctx context.Context, collectionKey string, members map[string]Value) error {
	if len(members) == 0 {
		return ErrEmptyCollection
	}
	if err := collection.ValidateMembers(collectionKey, members); err != nil {
		return err
	}
	members = s.collections.ApplySkippable(collectionKey, members)

	allKeys, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		return err
	}

	type memberState struct {
		prev     Value
		hadEntry bool
	}
	states := make(map[string]memberState, len(members))

	var toRemove []string
	existingPairs := make(map[string]Value)
	newPairs := make(map[string]Value)

	for key, v := range members {
		prev, hadEntry := s.cache.Get(key)
		states[key] = memberState{prev: prev, hadEntry: hadEntry}
		_, inStorage := allKeys[key]
		existsSomewhere := inStorage || hadEntry

		if v.IsNull() {
			if existsSomewhere {
				s.cache.Remove(key)
				toRemove = append(toRemove, key)
			}
			continue
		}

		if existsSomewhere {
			existingForCompat := prev
			if !hadEntry {
				existingForCompat = onyxval.Undef
			}
			if res := onyxval.Check(v, existingForCompat); !res.Compatible {
				metrics.IncompatibleUpdatesTotal.WithLabelValues("mergeCollection").Inc()
				s.log.Warn().Str("key", key).Str("collectionKey", collectionKey).
					Msg("mergeCollection: incompatible member shape, dropping")
				continue
			}
			existingPairs[key] = v
		} else {
			newPairs[key] = v
		}
	}

	if len(toRemove) > 0 {
		if err := s.withEvictRetry(ctx, func() error {
			return s.storage.RemoveItems(ctx, toRemove)
		}); err != nil {
			return err
		}
	}
	if len(existingPairs) > 0 {
		if err := s.withEvictRetry(ctx, func() error {
			return s.storage.MultiMerge(ctx, existingPairs)
		}); err != nil {
			return err
		}
	}
	strippedNew := make(map[string]Value, len(newPairs))
	for key, v := range newPairs {
		strippedNew[key] = merge.Apply(onyxval.Undef, []Value{v}, true)
	}
	if len(strippedNew) > 0 {
		if err := s.withEvictRetry(ctx, func() error {
			return s.storage.MultiSet(ctx, strippedNew)
		}); err != nil {
			return err
		}
	}

	previous := make(map[string]Value, len(states))
	merged := make(map[string]Value, len(members))
	for key := range toRemoveSet(toRemove) {
		previous[key] = states[key].prev
		merged[key] = onyxval.Undef
	}
	for key, v := range existingPairs {
		st := states[key]
		base := st.prev
		if !st.hadEntry {
			base = onyxval.Undef
		}
		preMerged := merge.Apply(base, []Value{v}, true)
		s.cache.Set(key, preMerged)
		previous[key] = st.prev
		merged[key] = preMerged
	}
	for key, v := range strippedNew {
		s.cache.Set(key, v)
		previous[key] = states[key].prev
		merged[key] = v
	}

	return s.subs.ScheduleNotifyCollectionSubscribers(ctx, collectionKey, merged, previous)
}

func toRemoveSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// SetCollection replaces an entire collection (spec §4.7): any
// previously-persisted member under collectionKey absent from members is
// scheduled for removal by folding a null into the combined write.
func (s *Store) SetCollection(ctx context.Context, collectionKey string, members map[string]Value) error {
	return s.metricsRec.Observe("setCollection", func() error {
		return s.setCollection(ctx, collectionKey, members)
	})
}

func (s *Store) setCollection(ctx context.Context, collectionKey string, members map[string]Value) error {
	if len(members) == 0 {
		return ErrEmptyCollection
	}
	members = s.collections.ApplySkippable(collectionKey, members)

	allKeys, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		return err
	}

	combined := make(map[string]Value, len(members))
	for k, v := range members {
		combined[k] = v
	}
	for key := range allKeys {
		if !strings.HasPrefix(key, collectionKey) {
			continue
		}
		if _, ok := combined[key]; !ok {
			combined[key] = onyxval.Nil
		}
	}

	previous := make(map[string]Value, len(combined))
	for key := range combined {
		if v, ok := s.cache.Get(key); ok {
			previous[key] = v
		}
	}

	if err := s.multiSet(ctx, combined); err != nil {
		return err
	}

	merged := make(map[string]Value, len(combined))
	for key := range combined {
		if v, ok := s.cache.Get(key); ok {
			merged[key] = v
		} else {
			merged[key] = onyxval.Undef
		}
	}

	return s.subs.ScheduleNotifyCollectionSubscribers(ctx, collectionKey, merged, previous)
}
