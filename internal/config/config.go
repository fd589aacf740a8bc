// Package config loads the Init options enumerated in spec §6 from a YAML
// file, the way cmd/onyxd starts up. Everything here has a sane zero
// value so a store can also be constructed purely from code (see
// onyx.Options in the root package) without ever touching this package.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/onyx/internal/onyxval"
)

// Options is the YAML-serializable form of spec §6's Init options.
type Options struct {
	Keys struct {
		Individual         []string `yaml:"individual"`
		CollectionPrefixes []string `yaml:"collectionPrefixes"`
	} `yaml:"keys"`

	InitialKeyStates map[string]any `yaml:"initialKeyStates"`

	EvictableKeys                []string `yaml:"evictableKeys"`
	MaxCachedKeysCount           int      `yaml:"maxCachedKeysCount"`
	ShouldSyncMultipleInstances  bool     `yaml:"shouldSyncMultipleInstances"`
	DebugSetState                bool     `yaml:"debugSetState"`
	EnablePerformanceMetrics     bool     `yaml:"enablePerformanceMetrics"`
	SkippableCollectionMemberIDs []string `yaml:"skippableCollectionMemberIDs"`
	FullyMergedSnapshotKeys      []string `yaml:"fullyMergedSnapshotKeys"`
}

// Default returns the zero-configuration Options, matching spec §6's
// documented default of a 1000-key recency bound.
func Default() Options {
	return Options{MaxCachedKeysCount: 1000}
}

// Load reads and parses a YAML Init-options file from path.
func Load(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("onyx: read config %q: %w", path, err)
	}
	opts := Default()
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("onyx: parse config %q: %w", path, err)
	}
	return opts, nil
}

// DefaultKeyStates converts InitialKeyStates into the Value-typed map the
// store's Clear operation restores keys to (spec §3 "Default Key
// States").
func (o Options) DefaultKeyStates() map[string]onyxval.Value {
	out := make(map[string]onyxval.Value, len(o.InitialKeyStates))
	for k, v := range o.InitialKeyStates {
		out[k] = onyxval.Of(v)
	}
	return out
}
