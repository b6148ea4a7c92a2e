package domain

import (
	"strings"
	"time"
)

// OAuthAccountStatus is the lifecycle state of an OAuth account, mutated
// only through the documented operations in spec §4.4/§4.10.
type OAuthAccountStatus string

const (
	OAuthStatusActive        OAuthAccountStatus = "active"
	OAuthStatusQuotaCooldown OAuthAccountStatus = "quota-cooldown"
	OAuthStatusDisabled      OAuthAccountStatus = "disabled"
	OAuthStatusExpired       OAuthAccountStatus = "expired"
	OAuthStatusError         OAuthAccountStatus = "error"
)

// OAuthAccount is a stored OAuth credential set for one CLI class, shared
// across any number of Providers that reference it.
type OAuthAccount struct {
	ID       int64
	CLIClass CLIClass
	Label    string
	Email    string
	Provider string // provider-type tag, e.g. the backend family behind the account

	AccessToken     string
	RefreshToken    string
	IDToken         string
	TokenEndpoint   string
	ClientID        string
	ClientSecret    string

	ExpiresAt       time.Time
	RefreshLeadSecs int
	LastRefreshedAt time.Time

	Status OAuthAccountStatus

	QuotaExceeded  bool
	QuotaRecoverAt time.Time

	RefreshSuccessCount int64
	RefreshFailureCount int64
	LastError           string
}

// Validate checks the invariants of spec §3.
func (a *OAuthAccount) Validate() error {
	if strings.TrimSpace(a.Label) == "" {
		return NewConfigValidationError("label", a.Label, "must not be empty")
	}
	if !a.CLIClass.Valid() {
		return NewConfigValidationError("cli_class", a.CLIClass, "must be one of the recognised CLI classes")
	}
	if strings.TrimSpace(a.AccessToken) == "" {
		return NewConfigValidationError("access_token", "", "must not be empty")
	}
	switch a.Status {
	case OAuthStatusActive, OAuthStatusQuotaCooldown, OAuthStatusDisabled, OAuthStatusExpired, OAuthStatusError:
	default:
		return NewConfigValidationError("status", a.Status, "must be a recognised status")
	}
	return nil
}

// NeedsPreemptiveRefresh reports whether now has crossed the refresh-lead
// threshold before ExpiresAt (spec §4.4).
func (a *OAuthAccount) NeedsPreemptiveRefresh(now time.Time) bool {
	if a.ExpiresAt.IsZero() {
		return false
	}
	lead := time.Duration(a.RefreshLeadSecs) * time.Second
	return !now.Before(a.ExpiresAt.Add(-lead))
}

// StillValid reports whether the access token has not yet expired,
// used as the fallback-to-stale-token path on refresh failure.
func (a *OAuthAccount) StillValid(now time.Time) bool {
	return a.ExpiresAt.IsZero() || now.Before(a.ExpiresAt)
}

// RecentlyRefreshed implements the 30s debounce window from spec §4.4/§4.10.
func (a *OAuthAccount) RecentlyRefreshed(now time.Time) bool {
	if a.LastRefreshedAt.IsZero() {
		return false
	}
	return now.Sub(a.LastRefreshedAt) < 30*time.Second
}

// QuotaActive reports whether the account is presently in a quota cooldown
// that has not yet elapsed.
func (a *OAuthAccount) QuotaActive(now time.Time) bool {
	return a.QuotaExceeded && now.Before(a.QuotaRecoverAt)
}

// CanAutoClearQuota reports whether a stale quota-exceeded flag's cooldown
// window has elapsed and should be cleared before use (spec §4.4).
func (a *OAuthAccount) CanAutoClearQuota(now time.Time) bool {
	return a.QuotaExceeded && !now.Before(a.QuotaRecoverAt)
}
