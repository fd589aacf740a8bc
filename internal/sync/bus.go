// Package sync implements the best-effort multi-instance write bus used
// by storage drivers that support keepInstancesSync (spec §6, §9
// "Multi-instance sync"). It is deliberately simple: writes are fanned out
// to every other known peer over HTTP, with no acknowledgement, no
// ordering guarantee across peers, and no retries — "last delivery wins"
// exactly as spec.md's DESIGN NOTES prescribe. The request/response shape
// is grounded on the internal/cluster PostJSON/GetJSON helpers and
// BroadcastRequest envelope idiom.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/onyx/internal/onyxval"
)

// httpClient is shared across every Bus the same way internal/cluster
// shares one client across all cluster communication.
var httpClient = &http.Client{Timeout: 3 * time.Second}

// WriteNotification is the wire payload delivered to peers when a local
// write commits, grounded on the BroadcastRequest envelope idiom.
type WriteNotification struct {
	Key   string        `json:"key"`
	Value onyxval.Value `json:"value"`
}

// Bus fans local writes out to a set of peer instance addresses and
// accepts incoming notifications from peers over its own HTTP handler.
type Bus struct {
	log zerolog.Logger

	mu    sync.RWMutex
	peers map[string]struct{}

	onRemote func(key string, value onyxval.Value)
}

// NewBus creates an empty Bus. Peers are added with AddPeer as instances
// join the multi-instance set.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log, peers: make(map[string]struct{})}
}

// AddPeer registers addr (e.g. "http://localhost:8082") as a peer instance
// to fan writes out to.
func (b *Bus) AddPeer(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[addr] = struct{}{}
}

// RemovePeer deregisters addr.
func (b *Bus) RemovePeer(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, addr)
}

// Subscribe registers the callback invoked for notifications received
// from peers, matching the keepInstancesSync(callback) contract (spec §6).
func (b *Bus) Subscribe(onRemote func(key string, value onyxval.Value)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRemote = onRemote
}

// Publish fans out a local write to every known peer. Failures are logged
// and otherwise ignored: a peer that is briefly unreachable simply misses
// this update, consistent with the bus's best-effort contract.
func (b *Bus) Publish(ctx context.Context, key string, value onyxval.Value) {
	b.mu.RLock()
	peers := make([]string, 0, len(b.peers))
	for p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.RUnlock()

	notification := WriteNotification{Key: key, Value: value}
	for _, addr := range peers {
		go func(addr string) {
			if err := postJSON(ctx, addr+"/onyx/sync", notification); err != nil {
				b.log.Warn().Err(err).Str("peer", addr).Str("key", key).Msg("multi-instance sync publish failed")
			}
		}(addr)
	}
}

// Handler returns an http.HandlerFunc suitable for mounting at
// "/onyx/sync" on a peer's server, decoding incoming WriteNotifications
// and invoking the subscribed callback.
func (b *Bus) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var n WriteNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		b.mu.RLock()
		cb := b.onRemote
		b.mu.RUnlock()

		if cb != nil {
			cb(n.Key, n.Value)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// postJSON sends a JSON-encoded POST request, grounded on
// internal/cluster.PostJSON.
func postJSON(ctx context.Context, url string, body any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return nil
}
