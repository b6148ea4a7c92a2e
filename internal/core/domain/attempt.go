package domain

// AttemptDecision is the outcome the response classifier assigns to one
// attempt, driving the failover loop's next step (spec §4.7/§4.9).
type AttemptDecision string

const (
	DecisionSuccess         AttemptDecision = "success"
	DecisionRetrySame       AttemptDecision = "retry-same-provider"
	DecisionSwitchProvider  AttemptDecision = "switch-provider"
	DecisionAbort           AttemptDecision = "abort"
	DecisionSkipped         AttemptDecision = "skipped"
)

// FailoverAttempt is one row in the per-request attempts vector, appended
// once per started attempt and any gated skip (spec §3).
type FailoverAttempt struct {
	ProviderID      int64
	ProviderName    string
	BaseURL         string
	Outcome         string // "success" | "upstream_error" | "transport_error" | "skipped"
	UpstreamStatus  int    // 0 if none
	ProviderIndex   int    // 1..N of tried providers
	RetryIndex      int    // retry count within this provider
	SessionReuse    bool
	Category        ErrorCategory
	Code            ErrorCode
	Decision        AttemptDecision
	Reason          string
	BreakerBefore   BreakerSnapshot
	BreakerAfter    BreakerSnapshot
	StartOffsetMs   int64
	DurationMs      int64
}
