// Package fingerprint implements the Request Fingerprinter and its
// recent-error gate (spec §4.5): it computes a stable key for an inbound
// request so a fast client retry of the same call can be recognised, and
// keeps a short-TTL cache of "all providers unavailable" outcomes keyed
// off the body-less variant of that fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// GateTTL is how long a recorded "unavailable" outcome is joinable by a
// fast-retried identical request before it must run the failover loop
// again (spec §4.5).
const GateTTL = 3 * time.Second

// headerAllowlist lists headers that participate in the fingerprint;
// anything else (trace ids, timestamps, connection-specific headers) would
// make two logically-identical requests hash differently.
var headerAllowlist = []string{"content-type", "x-aio-provider-id", "anthropic-version", "openai-beta"}

type gateEntry struct {
	err      domain.GatewayError
	expireAt time.Time
}

// Gate implements ports.Fingerprinter.
type Gate struct {
	mu     sync.Mutex
	recent map[string]gateEntry
}

var _ ports.Fingerprinter = (*Gate)(nil)

// New builds a Gate and starts its background sweep of expired entries.
func New() *Gate {
	g := &Gate{recent: make(map[string]gateEntry)}
	go g.sweepLoop()
	return g
}

func (g *Gate) sweepLoop() {
	ticker := time.NewTicker(GateTTL)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		g.mu.Lock()
		for k, e := range g.recent {
			if now.After(e.expireAt) {
				delete(g.recent, k)
			}
		}
		g.mu.Unlock()
	}
}

// Compute builds both the full and body-less fingerprints for a request.
func (g *Gate) Compute(method, path string, headers http.Header, body []byte) domain.Fingerprint {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	writeAllowedHeaders(h, headers)
	unavailable := hex.EncodeToString(h.Sum(nil))

	h.Write([]byte{0})
	h.Write(body)
	full := hex.EncodeToString(h.Sum(nil))

	return domain.Fingerprint{Key: full, UnavailableKey: unavailable}
}

func writeAllowedHeaders(h interface{ Write([]byte) (int, error) }, headers http.Header) {
	keys := make([]string, 0, len(headerAllowlist))
	for _, k := range headerAllowlist {
		if v := headers.Get(k); v != "" {
			keys = append(keys, k+"="+v)
		}
	}
	sort.Strings(keys)
	for _, kv := range keys {
		h.Write([]byte(kv))
		h.Write([]byte{0})
	}
}

// RecentlyUnavailable reports whether key was recorded as unavailable
// within the gate TTL.
func (g *Gate) RecentlyUnavailable(key string) (domain.GatewayError, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.recent[key]
	if !ok || time.Now().After(e.expireAt) {
		return domain.GatewayError{}, false
	}
	return e.err, true
}

// RecordUnavailable remembers an "all providers unavailable" outcome for
// key, joinable by a fast-retried identical request until the gate TTL
// elapses.
func (g *Gate) RecordUnavailable(key string, err domain.GatewayError) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent[key] = gateEntry{err: err, expireAt: time.Now().Add(GateTTL)}
}
