package domain_test

import (
	"testing"

	"github.com/thushan/olla/internal/core/domain"
)

func validProvider() *domain.Provider {
	return &domain.Provider{
		Name:           "anthropic-primary",
		CLIClass:       domain.CLIClassA,
		BaseURLs:       []string{"https://api.anthropic.com"},
		URLMode:        domain.URLModeOrder,
		AuthMode:       domain.AuthModeAPIKey,
		APIKey:         "sk-test",
		CostMultiplier: 1.0,
		Priority:       100,
	}
}

func TestProviderValidate_valid(t *testing.T) {
	if err := validProvider().Validate(); err != nil {
		t.Fatalf("expected valid provider, got %v", err)
	}
}

func TestProviderValidate_rejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Provider)
	}{
		{"empty name", func(p *domain.Provider) { p.Name = "  " }},
		{"invalid cli class", func(p *domain.Provider) { p.CLIClass = domain.CLIClass("nope") }},
		{"no base urls", func(p *domain.Provider) { p.BaseURLs = nil }},
		{"non-http base url", func(p *domain.Provider) { p.BaseURLs = []string{"ftp://host"} }},
		{"duplicate base urls", func(p *domain.Provider) {
			p.BaseURLs = []string{"https://a.example", "https://a.example"}
		}},
		{"bad url mode", func(p *domain.Provider) { p.URLMode = domain.URLSelectionMode("bogus") }},
		{"cost multiplier zero", func(p *domain.Provider) { p.CostMultiplier = 0 }},
		{"cost multiplier too big", func(p *domain.Provider) { p.CostMultiplier = 1001 }},
		{"negative priority", func(p *domain.Provider) { p.Priority = -1 }},
		{"priority too big", func(p *domain.Provider) { p.Priority = 1001 }},
		{"oauth without account id", func(p *domain.Provider) {
			p.AuthMode = domain.AuthModeOAuth
			p.OAuthAccountID = 0
		}},
		{"bad auth mode", func(p *domain.Provider) { p.AuthMode = domain.AuthMode("bogus") }},
		{"daily limit without reset mode", func(p *domain.Provider) {
			p.Limits.DailyUSD = 10
			p.Limits.DailyReset = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validProvider()
			tc.mutate(p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestProviderResolveModel(t *testing.T) {
	p := validProvider()
	p.ModelSlots = domain.ModelSlots{Main: "main-model", Reasoning: "reasoning-model", Short: "short-model", Medium: "medium-model", Long: "long-model"}

	cases := []struct {
		name     string
		model    string
		thinking bool
		want     string
	}{
		{"thinking mode wins", "claude-3-haiku", true, "reasoning-model"},
		{"haiku maps to short", "claude-3-haiku-20240307", false, "short-model"},
		{"opus maps to long", "claude-3-opus-20240229", false, "long-model"},
		{"sonnet maps to medium", "claude-3-sonnet-20240229", false, "medium-model"},
		{"unrecognised falls back to main", "claude-unknown", false, "main-model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ResolveModel(tc.model, tc.thinking); got != tc.want {
				t.Errorf("ResolveModel(%q, %v) = %q, want %q", tc.model, tc.thinking, got, tc.want)
			}
		})
	}
}

func TestProviderResolveModel_emptySlotsPassesThrough(t *testing.T) {
	p := validProvider()
	if got := p.ResolveModel("claude-3-haiku", false); got != "claude-3-haiku" {
		t.Errorf("expected passthrough with empty slots, got %q", got)
	}
}

func TestProviderPrimaryBaseURLAndHasTag(t *testing.T) {
	p := validProvider()
	p.Tags = []string{"prod", "fast"}
	if got := p.PrimaryBaseURL(); got != "https://api.anthropic.com" {
		t.Errorf("PrimaryBaseURL() = %q", got)
	}
	if !p.HasTag("prod") || p.HasTag("staging") {
		t.Error("HasTag behaved unexpectedly")
	}

	empty := &domain.Provider{}
	if got := empty.PrimaryBaseURL(); got != "" {
		t.Errorf("PrimaryBaseURL() on empty provider = %q, want empty", got)
	}
}

func TestModelSlotsEmpty(t *testing.T) {
	if !(domain.ModelSlots{}).Empty() {
		t.Error("zero-value ModelSlots should be Empty")
	}
	if (domain.ModelSlots{Main: "x"}).Empty() {
		t.Error("ModelSlots with Main set should not be Empty")
	}
}
