// Package classifier implements the Response Classifier and its body
// rectifiers (spec §4.7): it maps one attempt's HTTP status/transport
// error onto a retry/switch/abort decision, applying in-place JSON body
// rewrites for recognised 400 signatures before a retry is attempted.
//
// The status-to-decision table is grounded on
// internal/adapter/proxy/core/retry.go's IsConnectionError/
// hasConnectionError classification of transport failures, generalised
// from "retry same endpoint" to the fuller retry/switch/abort table spec
// §4.7 requires. Rectifiers use github.com/tidwall/gjson and
// github.com/tidwall/sjson for targeted field inspection/rewrite without a
// full unmarshal/marshal round trip, the same pairing the llm-mux example
// repos in the retrieval pack use for request-body mutation.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Classifier implements ports.ResponseClassifier. The rectifier toggles are
// atomics rather than plain bools since SetRectifierToggles is called from
// the settings.json hot-reload watcher while Classify runs concurrently on
// request goroutines.
type Classifier struct {
	sigRectifierEnabled    atomic.Bool
	budgetRectifierEnabled atomic.Bool
}

var _ ports.ResponseClassifier = (*Classifier)(nil)

// New builds a Classifier with both rectifiers enabled, matching spec
// §4.7's default-on behaviour.
func New() *Classifier {
	c := &Classifier{}
	c.sigRectifierEnabled.Store(true)
	c.budgetRectifierEnabled.Store(true)
	return c
}

// SetRectifierToggles applies the runtime settings.json toggles (spec
// §4.7), callable at any time including from the settings file watcher.
func (c *Classifier) SetRectifierToggles(signatureEnabled, budgetEnabled bool) {
	c.sigRectifierEnabled.Store(signatureEnabled)
	c.budgetRectifierEnabled.Store(budgetEnabled)
}

// Classify implements spec §4.7's decision table.
func (c *Classifier) Classify(ctx context.Context, resp *http.Response, transportErr error, attempt int) ports.Classification {
	if transportErr != nil {
		return c.classifyTransportError(transportErr)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return ports.Classification{Decision: domain.DecisionSuccess, Category: "", Code: ""}

	case resp.StatusCode == http.StatusBadRequest:
		return c.classifyBadRequest(resp)

	case resp.StatusCode == http.StatusUnauthorized:
		return ports.Classification{
			Decision: domain.DecisionSwitchProvider,
			Category: domain.CategoryAuth,
			Code:     domain.CodeInvalidCLIKey,
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return ports.Classification{
			Decision:   domain.DecisionRetrySame,
			Category:   domain.CategoryRateLimit,
			Code:       domain.CodeProviderRateLimited,
			BackoffFor: rateLimitBackoff(resp, attempt),
		}

	case isRetryableProviderStatus(resp.StatusCode):
		return ports.Classification{
			Decision:   domain.DecisionRetrySame,
			Category:   domain.CategoryProviderError,
			Code:       domain.CodeUpstreamTimeout,
			BackoffFor: providerErrorBackoff(resp.StatusCode, attempt),
		}

	case resp.StatusCode == http.StatusConflict:
		return ports.Classification{
			Decision: domain.DecisionSwitchProvider,
			Category: domain.CategoryProviderError,
			Code:     domain.CodeUpstreamConflict,
		}

	case isNonRetryableClientStatus(resp.StatusCode):
		return ports.Classification{
			Decision: domain.DecisionAbort,
			Category: domain.CategoryNonRetryableClient,
			Code:     domain.CodeNonRetryableUpstream4x,
		}

	case resp.StatusCode >= 400:
		return ports.Classification{
			Decision: domain.DecisionSwitchProvider,
			Category: domain.CategoryProviderError,
			Code:     domain.CodeUpstreamClientError,
		}

	default:
		return ports.Classification{Decision: domain.DecisionSuccess}
	}
}

// isRetryableProviderStatus covers the transient provider conditions spec
// §4.7 wants retried against the same provider (with backoff) before the
// failover loop gives up and switches on exhaustion: request timeouts, the
// "too early" early-hints misfire, and any 5xx.
func isRetryableProviderStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooEarly || status >= 500
}

// isNonRetryableClientStatus is the fixed set of 4xx codes spec §4.7 treats
// as a genuine client error with no rectifier match: retrying or switching
// providers can't fix a malformed/forbidden/missing/oversized request.
func isNonRetryableClientStatus(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusNotFound, http.StatusRequestEntityTooLarge,
		http.StatusRequestURITooLong, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// providerErrorBackoff applies spec §4.7's two named backoff curves: linear
// for 5xx, the 429-style exponential curve for everything else in the
// retryable bucket (408/425 behave like a slow/early provider, not a rate
// limit, so there's no Retry-After header to honour).
func providerErrorBackoff(status int, attempt int) time.Duration {
	if status >= 500 {
		return linearBackoff(attempt)
	}
	return exponentialBackoff(attempt)
}

func rateLimitBackoff(resp *http.Response, attempt int) time.Duration {
	if d, ok := retryAfter(resp); ok {
		return d
	}
	return exponentialBackoff(attempt)
}

// exponentialBackoff is spec §4.7's 429 curve: 200ms * 2^(retry_index-1),
// capped at 4s, where retry_index is the 1-based attempt number.
func exponentialBackoff(attempt int) time.Duration {
	retryIndex := attempt + 1
	d := 200 * time.Millisecond * time.Duration(uint(1)<<uint(retryIndex-1))
	if d > 4*time.Second {
		d = 4 * time.Second
	}
	return d
}

// linearBackoff is spec §4.7's 5xx curve: 500ms * retry_index, capped at
// 3s, where retry_index is the 1-based attempt number.
func linearBackoff(attempt int) time.Duration {
	retryIndex := attempt + 1
	d := 500 * time.Millisecond * time.Duration(retryIndex)
	if d > 3*time.Second {
		d = 3 * time.Second
	}
	return d
}

// classifyBadRequest applies the thinking-signature and thinking-budget
// rectifiers (spec §4.7 scenario S6) before deciding whether a retry is
// worthwhile.
func (c *Classifier) classifyBadRequest(resp *http.Response) ports.Classification {
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return ports.Classification{Decision: domain.DecisionAbort, Category: domain.CategoryNonRetryableClient, Code: domain.CodeNonRetryableUpstream4x}
	}

	if c.sigRectifierEnabled.Load() {
		if fixed, setting, ok := rectifyThinkingSignature(raw); ok {
			resp.Body = io.NopCloser(bytes.NewReader(fixed))
			resp.ContentLength = int64(len(fixed))
			return ports.Classification{Decision: domain.DecisionRetrySame, Rectified: true, Setting: setting}
		}
	}
	if c.budgetRectifierEnabled.Load() {
		if fixed, setting, ok := rectifyThinkingBudget(raw); ok {
			resp.Body = io.NopCloser(bytes.NewReader(fixed))
			resp.ContentLength = int64(len(fixed))
			return ports.Classification{Decision: domain.DecisionRetrySame, Rectified: true, Setting: setting}
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return ports.Classification{Decision: domain.DecisionAbort, Category: domain.CategoryNonRetryableClient, Code: domain.CodeNonRetryableUpstream4x}
}

// rectifyThinkingSignature strips a stale `thinking` block signature
// rejected by the backend, letting the next attempt omit it entirely.
func rectifyThinkingSignature(body []byte) ([]byte, *domain.SpecialSetting, bool) {
	errMsg := gjson.GetBytes(body, "error.message").String()
	if errMsg == "" || !containsAny(errMsg, "signature", "thinking block") {
		return nil, nil, false
	}
	out, err := sjson.DeleteBytes(body, "thinking")
	if err != nil {
		return nil, nil, false
	}
	return out, &domain.SpecialSetting{Name: "thinking_signature_rectifier", Hit: true, Detail: errMsg}, true
}

// rectifyThinkingBudget clamps a thinking-budget value the backend
// rejected as out of range, rather than aborting the whole request.
func rectifyThinkingBudget(body []byte) ([]byte, *domain.SpecialSetting, bool) {
	errMsg := gjson.GetBytes(body, "error.message").String()
	if errMsg == "" || !containsAny(errMsg, "budget_tokens", "thinking.budget") {
		return nil, nil, false
	}
	out, err := sjson.SetBytes(body, "thinking.budget_tokens", 1024)
	if err != nil {
		return nil, nil, false
	}
	return out, &domain.SpecialSetting{Name: "thinking_budget_rectifier", Hit: true, Detail: errMsg}, true
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func (c *Classifier) classifyTransportError(err error) ports.Classification {
	if isConnectionError(err) {
		return ports.Classification{
			Decision: domain.DecisionSwitchProvider,
			Category: domain.CategorySystemError,
			Code:     domain.CodeUpstreamBodyReadError,
		}
	}
	return ports.Classification{
		Decision: domain.DecisionSwitchProvider,
		Category: domain.CategorySystemError,
		Code:     domain.CodeUpstreamTimeout,
	}
}

// isConnectionError mirrors retry.go's hasConnectionError: refused/reset/
// timeout errors indicate the endpoint itself is unreachable, not just one
// slow request.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// retryAfter reports the upstream's Retry-After header as a duration, if
// present and parseable.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs, true
	}
	return 0, false
}
