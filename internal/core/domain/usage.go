package domain

// Usage captures the token/cost accounting extracted by the streaming tee
// or the non-stream usage parser (spec §4.8).
type Usage struct {
	InputTokens        int64
	OutputTokens       int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	CostUSD            float64
	Model              string
}

// TotalTokens is a convenience sum used in request-log rows.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// FinalizationCode is the terminal status a streamed response ends with.
// Empty string ("") is the "None" / success code of spec §4.8/§9.
type FinalizationCode string

const (
	FinalizeSuccess         FinalizationCode = ""
	FinalizeStreamIdle      FinalizationCode = "stream-idle-timeout"
	FinalizeStreamError     FinalizationCode = "stream-error"
	FinalizeStreamAborted   FinalizationCode = "stream-aborted"
)

// SpecialSetting records a side effect surfaced by a rectifier or the
// response fixer, logged onto the request-log row's special_settings entry
// (spec §4.8/§4.7, scenario S6).
type SpecialSetting struct {
	Name string
	Hit  bool
	Detail string
}
