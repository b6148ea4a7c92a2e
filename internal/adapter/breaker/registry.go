// Package breaker wraps github.com/vnykmshr/autobreaker with a per-provider
// registry, write-through persistence and the gate/record/cooldown/reset
// surface the failover core expects (spec §4.1).
//
// Grounded on internal/adapter/proxy/core/retry.go's markEndpointUnhealthy
// for the backoff relationship between failures and cooldown duration, and
// on internal/adapter/discovery/service.go's atomic-bool + map-of-workers
// shape for a concurrency-safe per-key registry.
package breaker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/vnykmshr/autobreaker"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Config tunes the underlying autobreaker.Settings applied to every
// provider-scoped breaker the registry creates.
type Config struct {
	FailureThreshold    int           // consecutive failures before tripping, spec §4.1
	OpenTimeout         time.Duration // how long Open lasts before probing half-open
	HalfOpenMaxRequests uint32        // in-flight probes allowed during half-open
}

// DefaultConfig matches the values named in spec §3/§4.1.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Registry is a Circuit Breaker Registry keyed by provider ID, satisfying
// ports.CircuitBreakerRegistry.
type Registry struct {
	cfg       Config
	store     ports.BreakerStore
	log       *slog.Logger
	mu        sync.Mutex
	byID      map[int64]*autobreaker.CircuitBreaker
	openUntil map[int64]time.Time
}

var _ ports.CircuitBreakerRegistry = (*Registry)(nil)

// New builds a Registry. It does not read persisted snapshots back from
// store: every breaker starts closed, and the store is only written to.
func New(cfg Config, store ports.BreakerStore, log *slog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		store:     store,
		log:       log,
		byID:      make(map[int64]*autobreaker.CircuitBreaker),
		openUntil: make(map[int64]time.Time),
	}
}

func (r *Registry) breakerFor(providerID int64) *autobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.byID[providerID]; ok {
		return cb
	}
	threshold := uint32(r.cfg.FailureThreshold)
	cb := autobreaker.New(autobreaker.Settings{
		Name:        providerName(providerID),
		MaxRequests: r.cfg.HalfOpenMaxRequests,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts autobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to autobreaker.State) {
			if r.log != nil {
				r.log.Info("breaker state change", "provider", name, "from", from.String(), "to", to.String())
			}
			r.recordOpenUntil(providerID, to)
			r.writeThrough(providerID, to)
		},
	})
	r.byID[providerID] = cb
	return cb
}

func providerName(id int64) string {
	return "provider-" + strconv.FormatInt(id, 10)
}

// recordOpenUntil stashes the cooldown deadline for a provider transitioning
// to open: autobreaker doesn't expose its own expiry, so the registry tracks
// it independently for gate()'s earliest_available_unix (spec §4.1/§7,
// scenario S5).
func (r *Registry) recordOpenUntil(providerID int64, to autobreaker.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to == autobreaker.StateOpen {
		r.openUntil[providerID] = time.Now().Add(r.cfg.OpenTimeout)
	} else {
		delete(r.openUntil, providerID)
	}
}

func (r *Registry) earliestAvailable(providerID int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openUntil[providerID]
}

func (r *Registry) writeThrough(providerID int64, state autobreaker.State) {
	if r.store == nil {
		return
	}
	snap := toSnapshot(providerID, state, r.cfg)
	snap.OpenUntil = r.earliestAvailable(providerID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.UpsertBreakerSnapshot(ctx, snap); err != nil && r.log != nil {
		r.log.Warn("breaker write-through failed", "provider", providerID, "error", err)
	}
}

func toSnapshot(providerID int64, state autobreaker.State, cfg Config) domain.BreakerSnapshot {
	s := domain.BreakerSnapshot{
		ProviderID: providerID,
		Threshold:  cfg.FailureThreshold,
	}
	switch state {
	case autobreaker.StateOpen:
		s.State = domain.BreakerOpen
	case autobreaker.StateHalfOpen:
		s.State = domain.BreakerHalfOpen
	default:
		s.State = domain.BreakerClosed
	}
	return s
}

// Allow implements the gate() operation of spec §4.1: it reports the
// current snapshot and whether a request may proceed. It reserves nothing:
// while a breaker is half-open, every caller is allowed through.
func (r *Registry) Allow(providerID int64) (domain.BreakerSnapshot, bool) {
	cb := r.breakerFor(providerID)
	state := cb.State()
	counts := cb.Counts()
	snap := domain.BreakerSnapshot{
		ProviderID: providerID,
		FailCount:  int(counts.ConsecutiveFailures),
		Threshold:  r.cfg.FailureThreshold,
	}
	switch state {
	case autobreaker.StateOpen:
		snap.State = domain.BreakerOpen
		snap.OpenUntil = r.earliestAvailable(providerID)
		return snap, false
	case autobreaker.StateHalfOpen:
		snap.State = domain.BreakerHalfOpen
		return snap, true
	default:
		snap.State = domain.BreakerClosed
		return snap, true
	}
}

// RecordSuccess feeds one success into the underlying breaker by executing
// a no-op through it, the only way autobreaker exposes outcome recording.
func (r *Registry) RecordSuccess(providerID int64) {
	cb := r.breakerFor(providerID)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, nil })
}

// RecordFailure feeds one failure and returns the resulting snapshot.
func (r *Registry) RecordFailure(providerID int64) domain.BreakerSnapshot {
	cb := r.breakerFor(providerID)
	sentinel := errSentinelFailure
	_, _ = cb.Execute(func() (interface{}, error) { return nil, sentinel })
	return r.Snapshot(providerID)
}

// TriggerCooldown forces an open breaker until the given time, regardless
// of the consecutive-failure count. The failover loop does not call it; a
// 429 takes the classifier's retry-same path instead.
func (r *Registry) TriggerCooldown(providerID int64, until time.Time) {
	cb := r.breakerFor(providerID)
	for cb.State() != autobreaker.StateOpen {
		sentinel := errSentinelFailure
		_, _ = cb.Execute(func() (interface{}, error) { return nil, sentinel })
		if cb.Counts().ConsecutiveFailures == 0 {
			break // half-open probe succeeded underneath us, stop forcing
		}
	}
	r.mu.Lock()
	r.openUntil[providerID] = until // explicit cooldown deadline overrides OnStateChange's cfg.OpenTimeout guess
	r.mu.Unlock()
	if r.store != nil {
		snap := domain.BreakerSnapshot{
			ProviderID: providerID,
			State:      domain.BreakerOpen,
			Threshold:  r.cfg.FailureThreshold,
			OpenUntil:  until,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.store.UpsertBreakerSnapshot(ctx, snap)
	}
}

// Reset clears a provider's breaker back to closed, used by an admin
// surface or after a manual recovery confirmation.
func (r *Registry) Reset(providerID int64) {
	r.mu.Lock()
	delete(r.byID, providerID)
	delete(r.openUntil, providerID)
	r.mu.Unlock()
	r.writeThrough(providerID, autobreaker.StateClosed)
}

// Snapshot returns the current state without mutating anything.
func (r *Registry) Snapshot(providerID int64) domain.BreakerSnapshot {
	cb := r.breakerFor(providerID)
	counts := cb.Counts()
	snap := domain.BreakerSnapshot{
		ProviderID: providerID,
		FailCount:  int(counts.ConsecutiveFailures),
		Threshold:  r.cfg.FailureThreshold,
	}
	switch cb.State() {
	case autobreaker.StateOpen:
		snap.State = domain.BreakerOpen
		snap.OpenUntil = r.earliestAvailable(providerID)
	case autobreaker.StateHalfOpen:
		snap.State = domain.BreakerHalfOpen
	default:
		snap.State = domain.BreakerClosed
	}
	return snap
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errSentinelFailure = sentinelError("breaker: recorded failure")
