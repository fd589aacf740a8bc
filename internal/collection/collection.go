// Package collection implements key classification for Onyx's collection
// keys (spec §3): a declared prefix P is a collection, any key starting
// with P is a member, and the suffix after P is the member id. It also
// implements the skippable-member-id filter (spec §3, §4.4, §4.6-4.8) that
// coerces writes to specific member ids into deletions.
package collection

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/onyx/internal/onyxval"
)

// Registry holds the declared collection-key prefixes and skippable member
// ids for one Onyx store instance. It is analogous to a ShardRegistry,
// but instead of mapping shard ids to owning nodes it maps collection
// prefixes to their membership rules.
type Registry struct {
	prefixes  []string
	skippable map[string]struct{}
}

// NewRegistry declares the given collection-key prefixes and skippable
// member ids. Prefixes are sorted longest-first so that a key matching
// multiple declared prefixes resolves to the most specific one.
func NewRegistry(prefixes []string, skippableMemberIDs []string) *Registry {
	r := &Registry{
		prefixes:  append([]string(nil), prefixes...),
		skippable: make(map[string]struct{}, len(skippableMemberIDs)),
	}
	slices.SortFunc(r.prefixes, func(a, b string) int { return len(b) - len(a) })
	for _, id := range skippableMemberIDs {
		r.skippable[id] = struct{}{}
	}
	return r
}

// Classify returns the collection prefix and member id for key, if key
// belongs to any declared collection. ok is false for keys that are not
// collection members.
func (r *Registry) Classify(key string) (prefix, memberID string, ok bool) {
	for _, p := range r.prefixes {
		if strings.HasPrefix(key, p) && len(key) > len(p) {
			return p, key[len(p):], true
		}
	}
	return "", "", false
}

// IsSkippableKey reports whether key is a collection member whose member
// id is on the skippable list, per spec §3/§6 skippableCollectionMemberIDs.
func (r *Registry) IsSkippableKey(key string) bool {
	_, memberID, ok := r.Classify(key)
	if !ok {
		return false
	}
	_, skip := r.skippable[memberID]
	return skip
}

// ApplySkippable coerces every member of members whose id is skippable to
// onyxval.Nil, per spec §4.6 step 2 / §4.7 "Applies skippable filter".
func (r *Registry) ApplySkippable(prefix string, members map[string]onyxval.Value) map[string]onyxval.Value {
	out := make(map[string]onyxval.Value, len(members))
	for key, v := range members {
		memberID := strings.TrimPrefix(key, prefix)
		if _, skip := r.skippable[memberID]; skip {
			out[key] = onyxval.Nil
			continue
		}
		out[key] = v
	}
	return out
}

// ValidateMembers checks the invariant required by mergeCollection/
// setCollection (spec §4.6 step 1): members must be non-empty and every
// key must belong to collectionKey with a non-empty member id.
func ValidateMembers(collectionKey string, members map[string]onyxval.Value) error {
	if len(members) == 0 {
		return fmt.Errorf("collection %q: members must not be empty", collectionKey)
	}
	for key := range members {
		if !strings.HasPrefix(key, collectionKey) {
			return fmt.Errorf("collection %q: key %q does not belong to this collection", collectionKey, key)
		}
		if key == collectionKey {
			return fmt.Errorf("collection %q: key %q has an empty member id", collectionKey, key)
		}
	}
	return nil
}

// MemberIDs returns the sorted member ids (suffixes after prefix) present
// in members, used when building deterministic notification payloads.
func MemberIDs(prefix string, members map[string]onyxval.Value) []string {
	ids := make([]string, 0, len(members))
	for key := range members {
		ids = append(ids, strings.TrimPrefix(key, prefix))
	}
	slices.Sort(ids)
	return ids
}
