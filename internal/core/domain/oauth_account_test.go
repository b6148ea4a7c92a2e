package domain_test

import (
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

func validOAuthAccount() *domain.OAuthAccount {
	return &domain.OAuthAccount{
		CLIClass:    domain.CLIClassB,
		Label:       "codex-primary",
		AccessToken: "token-value",
		Status:      domain.OAuthStatusActive,
	}
}

func TestOAuthAccountValidate(t *testing.T) {
	if err := validOAuthAccount().Validate(); err != nil {
		t.Fatalf("expected valid account, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*domain.OAuthAccount)
	}{
		{"empty label", func(a *domain.OAuthAccount) { a.Label = " " }},
		{"invalid cli class", func(a *domain.OAuthAccount) { a.CLIClass = domain.CLIClass("bogus") }},
		{"empty access token", func(a *domain.OAuthAccount) { a.AccessToken = "" }},
		{"bad status", func(a *domain.OAuthAccount) { a.Status = domain.OAuthAccountStatus("bogus") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := validOAuthAccount()
			tc.mutate(a)
			if err := a.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestOAuthAccountNeedsPreemptiveRefresh(t *testing.T) {
	now := time.Now()
	a := validOAuthAccount()
	a.RefreshLeadSecs = 60
	a.ExpiresAt = now.Add(30 * time.Second)
	if !a.NeedsPreemptiveRefresh(now) {
		t.Error("expected refresh needed: within lead window of expiry")
	}

	a.ExpiresAt = now.Add(time.Hour)
	if a.NeedsPreemptiveRefresh(now) {
		t.Error("expected no refresh needed: far from expiry")
	}

	a.ExpiresAt = time.Time{}
	if a.NeedsPreemptiveRefresh(now) {
		t.Error("zero ExpiresAt should never need preemptive refresh")
	}
}

func TestOAuthAccountStillValid(t *testing.T) {
	now := time.Now()
	a := validOAuthAccount()
	a.ExpiresAt = now.Add(time.Minute)
	if !a.StillValid(now) {
		t.Error("expected still valid before expiry")
	}
	a.ExpiresAt = now.Add(-time.Minute)
	if a.StillValid(now) {
		t.Error("expected not valid after expiry")
	}
}

func TestOAuthAccountRecentlyRefreshed(t *testing.T) {
	now := time.Now()
	a := validOAuthAccount()
	if a.RecentlyRefreshed(now) {
		t.Error("zero LastRefreshedAt should not count as recently refreshed")
	}
	a.LastRefreshedAt = now.Add(-5 * time.Second)
	if !a.RecentlyRefreshed(now) {
		t.Error("expected recently refreshed within debounce window")
	}
	a.LastRefreshedAt = now.Add(-45 * time.Second)
	if a.RecentlyRefreshed(now) {
		t.Error("expected not recently refreshed outside debounce window")
	}
}

func TestOAuthAccountQuotaHelpers(t *testing.T) {
	now := time.Now()
	a := validOAuthAccount()
	a.QuotaExceeded = true
	a.QuotaRecoverAt = now.Add(time.Minute)

	if !a.QuotaActive(now) {
		t.Error("expected quota active before recover time")
	}
	if a.CanAutoClearQuota(now) {
		t.Error("expected cannot auto-clear before recover time")
	}

	a.QuotaRecoverAt = now.Add(-time.Minute)
	if a.QuotaActive(now) {
		t.Error("expected quota not active after recover time")
	}
	if !a.CanAutoClearQuota(now) {
		t.Error("expected can auto-clear after recover time")
	}
}
