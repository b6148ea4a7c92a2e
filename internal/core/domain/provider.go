package domain

import (
	"net/url"
	"strings"
)

// URLSelectionMode controls how a Provider picks among its base URLs.
type URLSelectionMode string

const (
	URLModeOrder URLSelectionMode = "order" // first-usable, in list order
	URLModePing  URLSelectionMode = "ping"  // lowest cached latency
)

// AuthMode is how a Provider's upstream credential is sourced.
type AuthMode string

const (
	AuthModeAPIKey AuthMode = "api-key"
	AuthModeOAuth  AuthMode = "oauth"
)

// ResetMode controls how a spend-limit window resets.
type ResetMode string

const (
	ResetFixedClock ResetMode = "fixed-clock"
	ResetRolling    ResetMode = "rolling"
)

// ModelSlots are the CLI-A model-mapping targets a Provider can populate.
// An inbound request's model is rewritten into one of these per the rule in
// spec §4.6: thinking-mode -> Reasoning, "haiku" substring -> Short, "opus"
// -> Long, "sonnet" -> Medium, else Main.
type ModelSlots struct {
	Main      string
	Reasoning string
	Short     string
	Medium    string
	Long      string
}

// Empty reports whether none of the slots are populated, in which case the
// forwarded body must equal the inbound body byte-for-byte (invariant 5).
func (m ModelSlots) Empty() bool {
	return m.Main == "" && m.Reasoning == "" && m.Short == "" && m.Medium == "" && m.Long == ""
}

// SpendLimits are optional caps across rolling/fixed windows. Zero means
// unlimited for that window.
type SpendLimits struct {
	FiveHourUSD float64
	DailyUSD    float64
	DailyReset  ResetMode
	WeeklyUSD   float64
	MonthlyUSD  float64
	TotalUSD    float64
}

// Provider is one upstream model-serving endpoint configuration, as owned
// by the storage layer and consumed read-only by the failover core.
type Provider struct {
	ID              int64
	Name            string
	CLIClass        CLIClass
	BaseURLs        []string
	URLMode         URLSelectionMode
	AuthMode        AuthMode
	APIKey          string // trimmed, only meaningful when AuthMode == AuthModeAPIKey
	OAuthAccountID  int64  // foreign key, only meaningful when AuthMode == AuthModeOAuth
	ModelSlots      ModelSlots
	Limits          SpendLimits
	Enabled         bool
	Priority        int
	CostMultiplier  float64
	Tags            []string
	SortOrder       int // position within an active sort-mode, if any
}

// Validate checks the invariants from spec §3: non-empty unique http(s)
// base URLs, cost-multiplier in (0,1000], priority in [0,1000], and a
// well-formed auth configuration.
func (p *Provider) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewConfigValidationError("name", p.Name, "must not be empty")
	}
	if !p.CLIClass.Valid() {
		return NewConfigValidationError("cli_class", p.CLIClass, "must be one of the recognised CLI classes")
	}
	if len(p.BaseURLs) == 0 {
		return NewConfigValidationError("base_urls", p.BaseURLs, "must not be empty")
	}
	seen := make(map[string]bool, len(p.BaseURLs))
	for _, raw := range p.BaseURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return NewConfigValidationError("base_urls", raw, "must be a valid http(s) URL")
		}
		if seen[raw] {
			return NewConfigValidationError("base_urls", raw, "must be unique")
		}
		seen[raw] = true
	}
	switch p.URLMode {
	case URLModeOrder, URLModePing:
	default:
		return NewConfigValidationError("url_mode", p.URLMode, "must be 'order' or 'ping'")
	}
	if p.CostMultiplier <= 0 || p.CostMultiplier > 1000 {
		return NewConfigValidationError("cost_multiplier", p.CostMultiplier, "must be in (0,1000]")
	}
	if p.Priority < 0 || p.Priority > 1000 {
		return NewConfigValidationError("priority", p.Priority, "must be in [0,1000]")
	}
	switch p.AuthMode {
	case AuthModeAPIKey:
	case AuthModeOAuth:
		if p.OAuthAccountID == 0 {
			return NewConfigValidationError("oauth_account_id", p.OAuthAccountID, "required when auth mode is oauth")
		}
	default:
		return NewConfigValidationError("auth_mode", p.AuthMode, "must be 'api-key' or 'oauth'")
	}
	if p.Limits.DailyUSD > 0 {
		switch p.Limits.DailyReset {
		case ResetFixedClock, ResetRolling:
		default:
			return NewConfigValidationError("daily_reset", p.Limits.DailyReset, "must be 'fixed-clock' or 'rolling' when a daily limit is set")
		}
	}
	return nil
}

// ResolveModel implements the CLI-A model-mapping rule of spec §4.6.
func (p *Provider) ResolveModel(requestedModel string, thinkingMode bool) string {
	if p.ModelSlots.Empty() {
		return requestedModel
	}
	if thinkingMode && p.ModelSlots.Reasoning != "" {
		return p.ModelSlots.Reasoning
	}
	lower := strings.ToLower(requestedModel)
	switch {
	case strings.Contains(lower, "haiku") && p.ModelSlots.Short != "":
		return p.ModelSlots.Short
	case strings.Contains(lower, "opus") && p.ModelSlots.Long != "":
		return p.ModelSlots.Long
	case strings.Contains(lower, "sonnet") && p.ModelSlots.Medium != "":
		return p.ModelSlots.Medium
	case p.ModelSlots.Main != "":
		return p.ModelSlots.Main
	default:
		return requestedModel
	}
}

// PrimaryBaseURL returns the first base URL, used when URLMode is "order"
// and no ping-latency cache is available yet.
func (p *Provider) PrimaryBaseURL() string {
	if len(p.BaseURLs) == 0 {
		return ""
	}
	return p.BaseURLs[0]
}

// HasTag reports whether the provider carries the given tag.
func (p *Provider) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
