package domain

import "time"

// BreakerState mirrors the classic closed/open/half-open circuit breaker
// states described in spec §3/§4.1.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSnapshot is the persisted and cached state for one provider's
// circuit breaker. The registry writes it through to storage on every
// transition; nothing reads it back at startup, so breakers start closed.
type BreakerSnapshot struct {
	ProviderID  int64
	State       BreakerState
	FailCount   int
	Threshold   int
	OpenUntil   time.Time
}

// Allows reports whether gate() should let a request through given now,
// without mutating state. Half-open always allows; neither this method nor
// the registry limits concurrent half-open probes.
func (s BreakerSnapshot) Allows(now time.Time) bool {
	switch s.State {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		return !now.Before(s.OpenUntil)
	default:
		return false
	}
}
