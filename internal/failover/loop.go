// Package failover implements the Failover Loop (spec §4.9): the
// orchestrator that ties provider selection, credential resolution,
// sending, classification, and the streaming tee together for one
// inbound request, producing the attempts vector and, on exhaustion, a
// diagnostic GatewayError.
//
// Grounded on internal/adapter/proxy/core/retry.go's
// ExecuteWithRetry loop shape (select → attempt → classify → retry/
// eliminate), generalised from "eliminate one bad endpoint and keep
// trying the rest" to the richer retry-same/switch-provider/abort
// decision table spec §4.7/§4.9 requires, and on
// internal/adapter/proxy/core/base.go's ProxyEvent publishing pattern
// for the events emitted on pkg/eventbus.
package failover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
	"github.com/thushan/olla/pkg/eventbus"
)

// Config bounds the loop's retry behaviour.
type Config struct {
	MaxProviderSwitches   int // spec §3: ceiling on distinct providers tried
	MaxRetriesPerProvider int
}

// DefaultConfig matches spec §3's named defaults.
func DefaultConfig() Config {
	return Config{MaxProviderSwitches: 5, MaxRetriesPerProvider: 2}
}

// Loop implements ports.FailoverLoop.
type Loop struct {
	cfg         Config
	selector    ports.ProviderSelector
	credentials ports.CredentialResolver
	sender      ports.UpstreamSender
	classifier  ports.ResponseClassifier
	tee         ports.StreamingTee
	breakers    ports.CircuitBreakerRegistry
	sessions    ports.SessionBindingTable
	fingerprint ports.Fingerprinter
	requestLog  ports.RequestLogStore
	events      *eventbus.EventBus[ports.GatewayEvent]
	log         *slog.Logger
}

var _ ports.FailoverLoop = (*Loop)(nil)

// New builds a Loop wired to every adapter it orchestrates.
func New(
	cfg Config,
	selector ports.ProviderSelector,
	credentials ports.CredentialResolver,
	sender ports.UpstreamSender,
	classifier ports.ResponseClassifier,
	tee ports.StreamingTee,
	breakers ports.CircuitBreakerRegistry,
	sessions ports.SessionBindingTable,
	fingerprint ports.Fingerprinter,
	requestLog ports.RequestLogStore,
	events *eventbus.EventBus[ports.GatewayEvent],
	log *slog.Logger,
) *Loop {
	return &Loop{
		cfg: cfg, selector: selector, credentials: credentials, sender: sender,
		classifier: classifier, tee: tee, breakers: breakers, sessions: sessions,
		fingerprint: fingerprint, requestLog: requestLog, events: events, log: log,
	}
}

// Handle orchestrates one inbound request end to end (spec §4.9).
func (l *Loop) Handle(ctx context.Context, req *ports.InboundRequest, w http.ResponseWriter) (*ports.RequestOutcome, error) {
	start := time.Now()
	fp := l.fingerprint.Compute(req.Method, req.Path, req.Headers, req.Body)

	if gwErr, ok := l.fingerprint.RecentlyUnavailable(fp.UnavailableKey); ok {
		return nil, &gwErr
	}

	sessionKey := domain.SessionKey{CLIClass: req.CLIClass, SID: req.SessionID}
	pinHeader := parsePinHeader(req.Headers)

	candidates, err := l.selector.Select(ctx, req.CLIClass, sessionKey, pinHeader)
	if err != nil {
		return nil, &domain.GatewayError{
			Category: domain.CategorySystemError,
			Code:     domain.CodeNoEnabledProvider,
			Message:  err.Error(),
			TraceID:  req.TraceID,
			Err:      err,
		}
	}
	if len(candidates) > l.cfg.MaxProviderSwitches {
		candidates = candidates[:l.cfg.MaxProviderSwitches]
	}

	outcome := &ports.RequestOutcome{}
	var lastClassification ports.Classification
	var triedAny bool
	var earliestAvail *time.Time

providerLoop:
	for providerIdx, provider := range candidates {
		snapBefore, allowed := l.breakers.Allow(provider.ID)
		if !allowed {
			outcome.Attempts = append(outcome.Attempts, domain.FailoverAttempt{
				ProviderID: provider.ID, ProviderName: provider.Name, ProviderIndex: providerIdx + 1,
				Outcome: "skipped", Decision: domain.DecisionSkipped, Category: domain.CategoryCircuitBreaker,
				Code: domain.CodeProviderCircuitOpen, BreakerBefore: snapBefore,
			})
			if until := snapBefore.OpenUntil; !until.IsZero() && (earliestAvail == nil || until.Before(*earliestAvail)) {
				earliestAvail = &until
			}
			continue
		}
		triedAny = true
		reactivelyRefreshed := false

		for retry := 0; retry <= l.cfg.MaxRetriesPerProvider; retry++ {
			attemptStart := time.Now()
			l.publish(ports.EventAttemptStarted, req.TraceID, provider.ID, "")

			cred, err := l.credentials.Resolve(ctx, provider)
			if err != nil {
				lastClassification = ports.Classification{Decision: domain.DecisionSwitchProvider, Category: domain.CategoryAuth, Code: domain.CodeInvalidCLIKey}
				l.recordAttempt(outcome, provider, providerIdx, retry, attemptStart, "transport_error", 0, lastClassification, snapBefore, sessionKey.SID != "")
				break
			}

			var body io.Reader
			if len(req.Body) > 0 {
				body = bytes.NewReader(req.Body)
			}
			resp, sendErr := l.sender.Send(ctx, &ports.SendRequest{
				Provider: provider, Credential: cred, Method: req.Method, Path: req.Path,
				Headers: req.Headers, Body: body, ThinkingMode: req.ThinkingMode, RequestedModel: req.RequestedModel,
			})

			classification := l.classifier.Classify(ctx, resp, sendErr, retry)
			lastClassification = classification

			snapAfter := snapBefore
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}

			// Reactive OAuth refresh (spec §4.7): a 401 can mean the backend
			// revoked a token the preemptive refresh still considered valid.
			// Spend one blocking refresh before falling back to the generic
			// 401 decision, and don't charge it against the provider's
			// normal retry budget.
			if status == http.StatusUnauthorized && provider.AuthMode == domain.AuthModeOAuth && !reactivelyRefreshed {
				reactivelyRefreshed = true
				if _, refreshErr := l.credentials.ForceRefresh(ctx, provider); refreshErr == nil {
					retried := classification
					retried.Decision = domain.DecisionRetrySame
					l.recordAttempt(outcome, provider, providerIdx, retry, attemptStart, "upstream_error", status, retried, snapBefore, sessionKey.SID != "")
					retry--
					continue
				}
			}

			// Exhaustion override: a retry-same verdict on the last allowed
			// attempt for this provider becomes a switch, so the attempts
			// vector records the hand-off honestly instead of silently
			// falling through to the next provider (spec §4.9 scenario S2).
			decision := classification.Decision
			if decision == domain.DecisionRetrySame && retry == l.cfg.MaxRetriesPerProvider {
				decision = domain.DecisionSwitchProvider
			}
			recorded := classification
			recorded.Decision = decision

			switch decision {
			case domain.DecisionSuccess:
				l.breakers.RecordSuccess(provider.ID)
				usage, fixerSettings, finalize, relayErr := l.tee.Relay(ctx, w, resp, req.CLIClass)
				outcome.Usage = usage
				outcome.Settings = append(outcome.Settings, fixerSettings...)
				outcome.Finalize = finalize
				outcome.Success = relayErr == nil
				outcome.FinalStatus = status
				l.sessions.BindSuccess(sessionKey, provider.ID)
				l.recordAttempt(outcome, provider, providerIdx, retry, attemptStart, "success", status, recorded, snapBefore, sessionKey.SID != "")
				l.publish(ports.EventRequestCompleted, req.TraceID, provider.ID, string(finalize))
				l.queueLog(req, outcome, start)
				return outcome, nil

			case domain.DecisionRetrySame:
				snapAfter = l.breakers.RecordFailure(provider.ID)
				l.recordAttempt(outcome, provider, providerIdx, retry, attemptStart, "upstream_error", status, recorded, snapBefore, sessionKey.SID != "")
				if recorded.BackoffFor > 0 {
					sleep(ctx, recorded.BackoffFor)
				}
				continue

			case domain.DecisionSwitchProvider:
				snapAfter = l.breakers.RecordFailure(provider.ID)
				if snapAfter.State == domain.BreakerOpen {
					l.sessions.ClearBoundProvider(sessionKey, provider.ID)
					l.publish(ports.EventBreakerOpened, req.TraceID, provider.ID, "")
				}
				l.recordAttempt(outcome, provider, providerIdx, retry, attemptStart, "upstream_error", status, recorded, snapBefore, sessionKey.SID != "")
				if recorded.BackoffFor > 0 {
					sleep(ctx, recorded.BackoffFor)
				}
				continue providerLoop

			case domain.DecisionAbort:
				l.recordAttempt(outcome, provider, providerIdx, retry, attemptStart, "upstream_error", status, recorded, snapBefore, sessionKey.SID != "")
				gwErr := &domain.GatewayError{
					Category: recorded.Category, Code: recorded.Code,
					Message: "upstream rejected the request", TraceID: req.TraceID,
					HTTPStatus: status, Attempts: outcome.Attempts, Err: fmt.Errorf("aborted at provider %s", provider.Name),
				}
				l.queueLog(req, outcome, start)
				return outcome, gwErr
			}
		}
	}

	// spec §4.9/§7: nothing tried (every candidate was gated) is a 503,
	// distinct from trying every candidate and having them all fail (502).
	httpStatus := http.StatusBadGateway
	if !triedAny {
		httpStatus = http.StatusServiceUnavailable
	}
	gwErr := &domain.GatewayError{
		Category: lastClassification.Category, Code: domain.CodeNoEnabledProvider,
		Message: "all candidate providers are unavailable", TraceID: req.TraceID,
		HTTPStatus: httpStatus, Attempts: outcome.Attempts, EarliestAvailAt: earliestAvail,
	}
	l.fingerprint.RecordUnavailable(fp.UnavailableKey, *gwErr)
	l.queueLog(req, outcome, start)
	return outcome, gwErr
}

func (l *Loop) recordAttempt(outcome *ports.RequestOutcome, p *domain.Provider, providerIdx, retry int, start time.Time, kind string, status int, cls ports.Classification, before domain.BreakerSnapshot, sessionReuse bool) {
	outcome.Attempts = append(outcome.Attempts, domain.FailoverAttempt{
		ProviderID: p.ID, ProviderName: p.Name, BaseURL: p.PrimaryBaseURL(),
		Outcome: kind, UpstreamStatus: status, ProviderIndex: providerIdx + 1, RetryIndex: retry,
		SessionReuse: sessionReuse, Category: cls.Category, Code: cls.Code, Decision: cls.Decision,
		BreakerBefore: before, StartOffsetMs: time.Since(start).Milliseconds(), DurationMs: time.Since(start).Milliseconds(),
	})
	if cls.Setting != nil {
		outcome.Settings = append(outcome.Settings, *cls.Setting)
	}
	l.publish(ports.EventAttemptFinished, "", p.ID, kind)
}

func (l *Loop) publish(t ports.GatewayEventType, traceID string, providerID int64, detail string) {
	if l.events == nil {
		return
	}
	l.events.PublishAsync(ports.GatewayEvent{Type: t, At: time.Now(), TraceID: traceID, ProviderID: providerID, Detail: detail})
}

func (l *Loop) queueLog(req *ports.InboundRequest, outcome *ports.RequestOutcome, start time.Time) {
	if l.requestLog == nil {
		return
	}
	row := ports.RequestLogRow{
		TraceID: req.TraceID, CLIClass: req.CLIClass, Path: req.Path, StartedAt: start,
		DurationMs: time.Since(start).Milliseconds(), Success: outcome.Success, FinalStatus: outcome.FinalStatus,
		Usage: outcome.Usage, Attempts: outcome.Attempts, SpecialSettings: outcome.Settings,
	}
	_ = l.requestLog.QueueInsert(context.Background(), row)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func parsePinHeader(headers http.Header) int64 {
	v := headers.Get("x-aio-provider-id")
	if v == "" {
		return 0
	}
	var id int64
	_, err := fmt.Sscanf(v, "%d", &id)
	if err != nil {
		return 0
	}
	return id
}
