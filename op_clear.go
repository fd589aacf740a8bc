package onyx

import (
	"context"

	"github.com/dreamware/onyx/internal/onyxval"
)

// Clear resets the store to its default key states (spec §4.8). Every
// key in keysToPreserve is left untouched; every key with a declared
// default state is (re)written to it; everything else is removed. The
// whole operation is registered under the named pending task "CLEAR" so
// concurrent writers may await it (spec §5 "Pending task capture").
//
// A set(K) issued immediately after Clear returns for a key with a
// default state can race a concurrent Clear still in flight and leave
// the default absent; callers in that situation should prefer Merge,
// which folds atop whatever Clear eventually writes instead of
// overwriting it outright (spec §4.8 hazard note).
func (s *Store) Clear(ctx context.Context, keysToPreserve []string) error {
	return s.metricsRec.Observe("clear", func() error {
		return s.clear(ctx, keysToPreserve)
	})
}

func (s *Store) clear(ctx context.Context, keysToPreserve []string) error {
	resolve := s.cache.RegisterTask("CLEAR")
	err := s.runClear(ctx, keysToPreserve)
	resolve(err)
	return err
}

func (s *Store) runClear(ctx context.Context, keysToPreserve []string) error {
	preserve := make(map[string]struct{}, len(keysToPreserve))
	for _, k := range keysToPreserve {
		preserve[k] = struct{}{}
	}

	storedKeys, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		return err
	}

	// Step 1: union of every currently stored key and every key with a
	// declared default state.
	all := make(map[string]struct{}, len(storedKeys)+len(s.defaultKeyStates))
	for k := range storedKeys {
		all[k] = struct{}{}
	}
	for k := range s.defaultKeyStates {
		all[k] = struct{}{}
	}

	// Step 2: partition into preserve / reset / remove.
	var removed []string
	defaultsToWrite := make(map[string]Value, len(s.defaultKeyStates))
	for key := range all {
		if _, keep := preserve[key]; keep {
			continue
		}
		if dv, hasDefault := s.defaultKeyStates[key]; hasDefault {
			defaultsToWrite[key] = dv
			continue
		}
		removed = append(removed, key)
	}

	// Step 3: stage subscriber updates for every target whose value will
	// actually change, grouping collection members by prefix so each
	// collection gets one coalesced notification instead of one per key,
	// the same batching op_collection.go's mergeCollection/setCollection do.
	type collectionChange struct {
		merged   map[string]Value
		previous map[string]Value
	}
	collectionChanges := make(map[string]*collectionChange)

	for key := range all {
		if _, keep := preserve[key]; keep {
			continue
		}
		target := onyxval.Undef
		if dv, ok := defaultsToWrite[key]; ok {
			target = dv
		}
		current, hadEntry := s.cache.Get(key)
		currentForCompare := current
		if !hadEntry {
			currentForCompare = onyxval.Undef
		}
		if onyxval.Equal(currentForCompare, target) {
			continue
		}

		if prefix, _, ok := s.collections.Classify(key); ok {
			cc, exists := collectionChanges[prefix]
			if !exists {
				cc = &collectionChange{merged: map[string]Value{}, previous: map[string]Value{}}
				collectionChanges[prefix] = cc
			}
			cc.merged[key] = target
			cc.previous[key] = current
			continue
		}

		_ = s.subs.ScheduleSubscriberUpdate(ctx, key, target, current)
	}
	for prefix, cc := range collectionChanges {
		_ = s.subs.ScheduleNotifyCollectionSubscribers(ctx, prefix, cc.merged, cc.previous)
	}

	// Step 4: drop removed keys from cache, remove from storage, refresh
	// the session id, then write defaults.
	for _, key := range removed {
		s.cache.Remove(key)
	}
	if len(removed) > 0 {
		if err := s.storage.RemoveItems(ctx, removed); err != nil {
			return err
		}
	}

	s.subs.RefreshSessionID()

	if len(defaultsToWrite) > 0 {
		if err := s.storage.MultiSet(ctx, defaultsToWrite); err != nil {
			return err
		}
		for key, v := range defaultsToWrite {
			s.cache.Set(key, v)
		}
	}

	return nil
}
