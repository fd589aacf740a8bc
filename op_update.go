package onyx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/onyx/internal/collection"
	"github.com/dreamware/onyx/internal/merge"
	"github.com/dreamware/onyx/internal/metrics"
	"github.com/dreamware/onyx/internal/onyxval"
)

// OpMethod names one of Update's recognized operation kinds. These
// strings also identify the operation in performance-metric labels.
type OpMethod string

const (
	OpSet             OpMethod = "set"
	OpMerge           OpMethod = "merge"
	OpMultiSet        OpMethod = "multiSet"
	OpMergeCollection OpMethod = "mergeCollection"
	OpSetCollection   OpMethod = "setCollection"
	OpClear           OpMethod = "clear"
)

// Op is one entry in an Update call's op list (spec §4.9). Which fields
// are meaningful depends on Method:
//   - OpSet, OpMerge: Key and Value.
//   - OpMultiSet: Values (Key/Value unused).
//   - OpMergeCollection, OpSetCollection: Key is the collection prefix, Values are its members.
//   - OpClear: KeysToPreserve (Key/Value/Values unused).
type Op struct {
	Method         OpMethod
	Key            string
	Value          Value
	Values         map[string]Value
	KeysToPreserve []string
}

// Update atomically composes a heterogeneous batch of operations (spec
// §4.9): collections with two or more queued members collapse into a
// single MergeCollection call, remaining per-key writes fold into one set
// or merge each, and any Clear runs first regardless of its position in
// ops. snapshotFns are run to completion before the main batch begins,
// matching the source's external updateSnapshots pre-stage (spec §4.9
// Phase 5, §5 ordering guarantees).
func (s *Store) Update(ctx context.Context, ops []Op, snapshotFns ...func(context.Context) error) error {
	return s.metricsRec.Observe("update", func() error {
		return s.update(ctx, ops, snapshotFns)
	})
}

func (s *Store) update(ctx context.Context, ops []Op, snapshotFns []func(context.Context) error) error {
	// Phase 1: validate.
	for _, op := range ops {
		switch op.Method {
		case OpSet, OpMerge:
			if op.Key == "" {
				return fmt.Errorf("%w: %s requires a key", ErrInvalidOperation, op.Method)
			}
		case OpMultiSet:
			if op.Values == nil {
				return fmt.Errorf("%w: multiSet requires a values map", ErrInvalidOperation)
			}
		case OpMergeCollection, OpSetCollection:
			if op.Key == "" || len(op.Values) == 0 {
				return fmt.Errorf("%w: %s requires a key and members", ErrInvalidOperation, op.Method)
			}
		case OpClear:
			// KeysToPreserve is optional; nothing further to validate.
		default:
			return fmt.Errorf("%w: %q", ErrInvalidOperation, op.Method)
		}
	}

	// Phase 2: build the per-key op queue.
	var clearOp *Op
	updateQueue := make(map[string][]Value)
	var setCollectionOps []Op

	for _, op := range ops {
		switch op.Method {
		case OpClear:
			if clearOp == nil {
				c := op
				clearOp = &c
			}
		case OpSet:
			updateQueue[op.Key] = []Value{onyxval.Nil, op.Value}
		case OpMerge:
			if op.Value.IsNull() {
				updateQueue[op.Key] = []Value{onyxval.Nil}
			} else {
				updateQueue[op.Key] = append(updateQueue[op.Key], op.Value)
			}
		case OpMultiSet:
			for key, v := range op.Values {
				updateQueue[key] = []Value{onyxval.Nil, v}
			}
		case OpMergeCollection:
			if err := collection.ValidateMembers(op.Key, op.Values); err != nil {
				return err
			}
			for key, v := range op.Values {
				if v.IsNull() {
					updateQueue[key] = []Value{onyxval.Nil}
				} else {
					updateQueue[key] = append(updateQueue[key], v)
				}
			}
		case OpSetCollection:
			setCollectionOps = append(setCollectionOps, op)
		}
	}

	// Phase 3: collapse collections with 2+ queued members into one
	// mergeCollection call, routing set-portion (first op null) and
	// merge-portion keys separately.
	groupedByPrefix := make(map[string][]string)
	for key := range updateQueue {
		if prefix, _, ok := s.collections.Classify(key); ok {
			groupedByPrefix[prefix] = append(groupedByPrefix[prefix], key)
		}
	}

	type collapsedCollection struct {
		prefix       string
		setPortion   map[string]Value
		mergePortion map[string]Value
	}
	var collapsed []collapsedCollection

	for prefix, keys := range groupedByPrefix {
		if len(keys) < 2 {
			continue
		}
		cc := collapsedCollection{prefix: prefix, setPortion: map[string]Value{}, mergePortion: map[string]Value{}}
		for _, key := range keys {
			opsList := updateQueue[key]
			folded := merge.Apply(onyxval.Undef, opsList, false)
			if opsList[0].IsNull() {
				cc.setPortion[key] = merge.Apply(onyxval.Undef, []Value{folded}, true)
			} else {
				cc.mergePortion[key] = folded
			}
			delete(updateQueue, key)
		}
		collapsed = append(collapsed, cc)
	}

	// Phase 4: emit the remaining per-key writes.
	var mainFns []func() error
	for key, opsList := range updateQueue {
		key, opsList := key, opsList
		folded := merge.Apply(onyxval.Undef, opsList, false)
		isSet := opsList[0].IsNull()
		mainFns = append(mainFns, func() error {
			if isSet {
				return s.set(ctx, key, folded)
			}
			return s.merge(ctx, key, folded)
		})
	}
	for _, cc := range collapsed {
		cc := cc
		mainFns = append(mainFns, func() error {
			return s.applyCollapsedCollection(ctx, cc.prefix, cc.setPortion, cc.mergePortion)
		})
	}
	for _, op := range setCollectionOps {
		op := op
		mainFns = append(mainFns, func() error {
			return s.setCollection(ctx, op.Key, op.Values)
		})
	}

	// Phase 6: clear (if any) runs first, then snapshots, then the main
	// batch — snapshots always complete before the main ops begin.
	if clearOp != nil {
		if err := s.clear(ctx, clearOp.KeysToPreserve); err != nil {
			return err
		}
	}

	snapFns := make([]func() error, len(snapshotFns))
	for i, fn := range snapshotFns {
		fn := fn
		snapFns[i] = func() error { return fn(ctx) }
	}
	if err := runConcurrent(snapFns); err != nil {
		return err
	}

	return runConcurrent(mainFns)
}

// applyCollapsedCollection executes the set-portion and merge-portion of
// a collapsed collection write from Update's Phase 3/4, then notifies
// collection subscribers once with the combined result.
func (s *Store) applyCollapsedCollection(ctx context.Context, prefix string, setPortion, mergePortion map[string]Value) error {
	allKeys, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		return err
	}

	previous := make(map[string]Value)
	merged := make(map[string]Value)
	var toRemove []string
	toSet := make(map[string]Value)

	for key, v := range setPortion {
		prev, hadEntry := s.cache.Get(key)
		previous[key] = prev
		if v.IsNull() {
			if hadEntry {
				s.cache.Remove(key)
				toRemove = append(toRemove, key)
			}
			merged[key] = onyxval.Undef
			continue
		}
		s.cache.Set(key, v)
		toSet[key] = v
		merged[key] = v
	}

	type mergeState struct {
		prev Value
		had  bool
	}
	mergeStates := make(map[string]mergeState)
	existingPairs := make(map[string]Value)
	newPairs := make(map[string]Value)

	for key, v := range mergePortion {
		prev, hadEntry := s.cache.Get(key)
		previous[key] = prev
		mergeStates[key] = mergeState{prev: prev, had: hadEntry}
		_, inStorage := allKeys[key]
		existsSomewhere := inStorage || hadEntry

		if v.IsNull() {
			if existsSomewhere {
				s.cache.Remove(key)
				toRemove = append(toRemove, key)
			}
			merged[key] = onyxval.Undef
			continue
		}

		if existsSomewhere {
			existingForCompat := prev
			if !hadEntry {
				existingForCompat = onyxval.Undef
			}
			if res := onyxval.Check(v, existingForCompat); !res.Compatible {
				metrics.IncompatibleUpdatesTotal.WithLabelValues("update").Inc()
				s.log.Warn().Str("key", key).Str("collectionKey", prefix).
					Msg("update: incompatible collapsed collection member, dropping")
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
	if len(toSet) > 0 {
		if err := s.withEvictRetry(ctx, func() error {
			return s.storage.MultiSet(ctx, toSet)
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

	for key, v := range existingPairs {
		st := mergeStates[key]
		base := st.prev
		if !st.had {
			base = onyxval.Undef
		}
		preMerged := merge.Apply(base, []Value{v}, true)
		s.cache.Set(key, preMerged)
		merged[key] = preMerged
	}
	for key, v := range strippedNew {
		s.cache.Set(key, v)
		merged[key] = v
	}

	return s.subs.ScheduleNotifyCollectionSubscribers(ctx, prefix, merged, previous)
}

// runConcurrent runs every fn in its own goroutine and joins their
// errors, matching the source's Promise.all-over-a-batch semantics (spec
// §4.9 Phase 6). Unlike errgroup's own Wait, which surfaces only the
// first error, every failing op here still runs to completion and all
// of their errors are reported together.
func runConcurrent(fns []func() error) error {
	if len(fns) == 0 {
		return nil
	}
	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if err := fn(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
