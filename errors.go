package onyx

import "errors"

// ErrInvalidOperation is returned by Update when a requested operation
// name is not one of set/merge/multiSet/mergeCollection/setCollection/clear
// (spec §4.9 step 1).
var ErrInvalidOperation = errors.New("onyx: invalid update operation")

// ErrEmptyCollection is returned by MergeCollection/SetCollection when
// called with no members (spec §4.6 step 1).
var ErrEmptyCollection = errors.New("onyx: collection write requires at least one member")

// maxEvictRetries bounds withEvictRetry to a single retry after one LRU
// eviction (spec §7).
const maxEvictRetries = 1
