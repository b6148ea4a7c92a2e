package domain

import "time"

// SessionBindingTTL is how long an idle session binding survives before
// eviction (spec §3).
const SessionBindingTTL = 300 * time.Second

// SessionBindingMaxEntries triggers LRU eviction once exceeded (spec §3).
const SessionBindingMaxEntries = 5000

// SessionKey identifies one conversational session within a CLI class.
type SessionKey struct {
	CLIClass CLIClass
	SID      string
}

// SessionBinding pins a conversation to the provider that last served it
// successfully. ProviderID == 0 means "session seen, not yet bound" (spec
// §3's "session binding uses keys not pointers" design note).
type SessionBinding struct {
	ProviderID    int64
	SortModeID    int64
	HasSortMode   bool
	ProviderOrder []int64
	ExpiresAt     time.Time
}

// Expired reports whether the binding's TTL has elapsed as of now.
func (b SessionBinding) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}
