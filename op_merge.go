package onyx

import (
	"context"

	"github.com/dreamware/onyx/internal/onyxval"
)

// Merge folds delta into key's existing value (spec §4.3). Deltas for the
// same key that arrive while a fold is still reading join that fold's
// batch and share its single storage read; a delta arriving after the
// fold has taken its batch starts a new fold.
func (s *Store) Merge(ctx context.Context, key string, delta Value) error {
	return s.metricsRec.Observe("merge", func() error {
		return s.merge(ctx, key, delta)
	})
}

func (s *Store) merge(ctx context.Context, key string, delta Value) error {
	if s.collections.IsSkippableKey(key) {
		delta = onyxval.Nil
	}
	return s.mq.Enqueue(ctx, key, delta)
}
