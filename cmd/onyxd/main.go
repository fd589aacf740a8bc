// Command onyxd runs a standalone Onyx store behind an HTTP API, for
// local development and for demonstrating multi-instance sync between
// two or more onyxd processes sharing a peer list.
//
// Configuration:
//   - ONYXD_LISTEN: listen address (default ":8090")
//   - ONYXD_CONFIG: path to a YAML Init-options file (optional)
//   - ONYXD_PEERS: comma-separated list of peer base URLs for
//     multi-instance sync (optional)
//   - ONYXD_BOLT_PATH: when set, use the bbolt-backed storage driver at
//     this file path instead of the default in-memory driver
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/onyx"
	"github.com/dreamware/onyx/internal/config"
	"github.com/dreamware/onyx/internal/storage"
	syncbus "github.com/dreamware/onyx/internal/sync"
)

// logFatal is a variable so tests can intercept fatal errors without
// terminating the test process.
var logFatal = log.Fatalf

func main() {
	listen := getenv("ONYXD_LISTEN", ":8090")
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "onyxd").Logger()

	opts := config.Default()
	if path := os.Getenv("ONYXD_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			logFatal("load config: %v", err)
		}
		opts = loaded
	}

	var driver storage.Storage
	if boltPath := os.Getenv("ONYXD_BOLT_PATH"); boltPath != "" {
		driver = storage.NewBoltDriver(boltPath)
	} else {
		driver = storage.NewMemoryDriver(nil)
	}

	bus := syncbus.NewBus(logger)
	for _, peer := range splitCSV(os.Getenv("ONYXD_PEERS")) {
		bus.AddPeer(peer)
	}

	ctx := context.Background()
	store, err := onyx.New(ctx, onyx.Options{
		IndividualKeys:               opts.Keys.Individual,
		CollectionPrefixes:           opts.Keys.CollectionPrefixes,
		InitialKeyStates:             opts.DefaultKeyStates(),
		EvictableKeys:                opts.EvictableKeys,
		MaxCachedKeysCount:           opts.MaxCachedKeysCount,
		ShouldSyncMultipleInstances:  opts.ShouldSyncMultipleInstances,
		DebugSetState:                opts.DebugSetState,
		EnablePerformanceMetrics:     opts.EnablePerformanceMetrics,
		SkippableCollectionMemberIDs: opts.SkippableCollectionMemberIDs,
		FullyMergedSnapshotKeys:      opts.FullyMergedSnapshotKeys,
		Storage:                      driver,
		Logger:                       logger,
	})
	if err != nil {
		logFatal("new store: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/onyx/sync", bus.Handler())
	mux.HandleFunc("/onyx/get", handleGet(store))
	mux.HandleFunc("/onyx/set", handleSet(store, bus))
	mux.HandleFunc("/onyx/merge", handleMerge(store, bus))
	mux.HandleFunc("/onyx/clear", handleClear(store))

	s := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("listen", listen).Msg("onyxd listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("onyxd stopped")
}

type getResponse struct {
	Value  onyx.Value `json:"value"`
	Exists bool       `json:"exists"`
}

func handleGet(store *onyx.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		value, ok, err := store.Get(r.Context(), key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(getResponse{Value: value, Exists: ok})
	}
}

type keyValueRequest struct {
	Key   string     `json:"key"`
	Value onyx.Value `json:"value"`
}

func handleSet(store *onyx.Store, bus *syncbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyValueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := store.Set(r.Context(), req.Key, req.Value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		bus.Publish(r.Context(), req.Key, req.Value)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMerge(store *onyx.Store, bus *syncbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyValueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := store.Merge(r.Context(), req.Key, req.Value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if merged, ok, err := store.Get(r.Context(), req.Key); err == nil && ok {
			bus.Publish(r.Context(), req.Key, merged)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type clearRequest struct {
	KeysToPreserve []string `json:"keysToPreserve"`
}

func handleClear(store *onyx.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clearRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err := store.Clear(r.Context(), req.KeysToPreserve); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
