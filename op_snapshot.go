package onyx

import "context"

// Snapshot reads several keys in one call, reading through the cache to
// storage on a miss for each. It is the read-only multi-get convenience
// Update's snapshotFns hook is expected to build on (spec §4.9 Phase 5
// "updateSnapshots").
func (s *Store) Snapshot(ctx context.Context, keys ...string) (map[string]Value, error) {
	out := make(map[string]Value, len(keys))
	b := (*backend)(s)
	for _, key := range keys {
		v, ok, err := b.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}
