package breaker

import (
	"testing"
	"time"
)

func TestRegistry_AllowStartsClosed(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)

	snap, ok := r.Allow(1)
	if !ok {
		t.Fatal("expected a fresh provider to allow requests")
	}
	if snap.State != "closed" {
		t.Errorf("expected closed state, got %q", snap.State)
	}
}

func TestRegistry_TripsAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	r := New(cfg, nil, nil)

	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure(1)
	}

	snap, ok := r.Allow(1)
	if ok {
		t.Fatal("expected breaker to be open after threshold failures")
	}
	if snap.State != "open" {
		t.Errorf("expected open state, got %q", snap.State)
	}
}

func TestRegistry_SuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	r := New(cfg, nil, nil)

	r.RecordFailure(1)
	r.RecordFailure(1)
	r.RecordSuccess(1)

	snap := r.Snapshot(1)
	if snap.FailCount != 0 {
		t.Errorf("expected consecutive failure count reset to 0, got %d", snap.FailCount)
	}
}

func TestRegistry_TriggerCooldownForcesOpen(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)

	r.TriggerCooldown(1, time.Now().Add(30*time.Second))

	_, ok := r.Allow(1)
	if ok {
		t.Fatal("expected provider to be gated after a forced cooldown")
	}
}

func TestRegistry_ResetClearsState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	r := New(cfg, nil, nil)

	r.RecordFailure(1)
	if _, ok := r.Allow(1); ok {
		t.Fatal("expected provider to be open before reset")
	}

	r.Reset(1)
	if _, ok := r.Allow(1); !ok {
		t.Fatal("expected provider to allow requests after reset")
	}
}

func TestRegistry_IndependentPerProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	r := New(cfg, nil, nil)

	r.RecordFailure(1)

	if _, ok := r.Allow(1); ok {
		t.Error("provider 1 should be open")
	}
	if _, ok := r.Allow(2); !ok {
		t.Error("provider 2 should be unaffected by provider 1's failures")
	}
}
