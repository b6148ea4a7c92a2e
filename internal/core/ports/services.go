package ports

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

// CircuitBreakerRegistry gates and records outcomes per provider (spec
// §4.1). Implementations wrap a third-party breaker library per provider ID.
type CircuitBreakerRegistry interface {
	Allow(providerID int64) (domain.BreakerSnapshot, bool)
	RecordSuccess(providerID int64)
	RecordFailure(providerID int64) domain.BreakerSnapshot
	TriggerCooldown(providerID int64, until time.Time)
	Reset(providerID int64)
	Snapshot(providerID int64) domain.BreakerSnapshot
}

// SessionBindingTable is the in-memory TTL+LRU session pin store (spec
// §4.2).
type SessionBindingTable interface {
	Get(key domain.SessionKey) (domain.SessionBinding, bool)
	BindSuccess(key domain.SessionKey, providerID int64)
	BindSortMode(key domain.SessionKey, sortModeID int64, order []int64)
	ClearBoundProvider(key domain.SessionKey, providerID int64)
	Len() int
}

// ProviderSelector returns the ordered candidate list for one request (spec
// §4.3).
type ProviderSelector interface {
	Select(ctx context.Context, cli domain.CLIClass, session domain.SessionKey, pinnedProviderID int64) ([]*domain.Provider, error)
}

// CredentialResolver attaches a usable credential to an outbound request,
// refreshing OAuth tokens inline when required (spec §4.4).
type CredentialResolver interface {
	Resolve(ctx context.Context, p *domain.Provider) (Credential, error)

	// ForceRefresh performs one blocking OAuth refresh regardless of the
	// preemptive-refresh threshold, used by the failover loop's reactive
	// 401 handling (spec §4.7): the preemptive check may consider a token
	// still valid when the backend has already revoked it.
	ForceRefresh(ctx context.Context, p *domain.Provider) (Credential, error)
}

// Credential is the resolved auth material for one upstream call.
type Credential struct {
	HeaderName  string
	HeaderValue string
	AccountID   string // backend account id extracted from id-token claims, CLI-B only
	Stale       bool   // true when refresh failed and a pre-expiry token was reused
}

// Fingerprinter computes request fingerprints and gates repeat attempts
// against a recent-error cache (spec §4.5).
type Fingerprinter interface {
	Compute(method, path string, headers http.Header, body []byte) domain.Fingerprint
	RecentlyUnavailable(key string) (domain.GatewayError, bool)
	RecordUnavailable(key string, err domain.GatewayError)
}

// UpstreamSender performs one attempt against one provider (spec §4.6).
type UpstreamSender interface {
	Send(ctx context.Context, req *SendRequest) (*http.Response, error)
}

// SendRequest carries everything the sender needs to build the outbound
// call, already resolved by the caller (credential, target provider, CLI
// class behaviour).
type SendRequest struct {
	Provider      *domain.Provider
	Credential    Credential
	Method        string
	Path          string
	Headers       http.Header
	Body          io.Reader
	ThinkingMode  bool
	RequestedModel string
}

// ResponseClassifier inspects one upstream response/error and decides what
// the failover loop should do next, applying any body rectifiers in-place
// (spec §4.7).
type ResponseClassifier interface {
	Classify(ctx context.Context, resp *http.Response, transportErr error, attempt int) Classification
}

// Classification is the classifier's verdict for one attempt.
type Classification struct {
	Decision   domain.AttemptDecision
	Category   domain.ErrorCategory
	Code       domain.ErrorCode
	BackoffFor time.Duration
	Rectified  bool
	Setting    *domain.SpecialSetting
}

// StreamingTee relays an upstream response to the client while extracting
// usage, tracking idle timeouts, and applying the drain-grace disconnect
// rules (spec §4.8).
type StreamingTee interface {
	Relay(ctx context.Context, w http.ResponseWriter, upstream *http.Response, cli domain.CLIClass) (domain.Usage, []domain.SpecialSetting, domain.FinalizationCode, error)
}

// FailoverLoop orchestrates selection, credential resolution, sending,
// classification and retry/switch decisions for one inbound request (spec
// §4.9).
type FailoverLoop interface {
	Handle(ctx context.Context, req *InboundRequest, w http.ResponseWriter) (*RequestOutcome, error)
}

// InboundRequest is the gateway's normalised view of one client call.
type InboundRequest struct {
	TraceID        string
	CLIClass       domain.CLIClass
	Method         string
	Path           string
	Headers        http.Header
	Body           []byte
	SessionID      string
	PinProviderID  int64
	ThinkingMode   bool
	RequestedModel string
}

// RequestOutcome summarises one handled request for logging/eventing.
type RequestOutcome struct {
	Success     bool
	FinalStatus int
	Usage       domain.Usage
	Attempts    []domain.FailoverAttempt
	Settings    []domain.SpecialSetting
	Finalize    domain.FinalizationCode
	Err         *domain.GatewayError
}

// OAuthRefresher runs the background ticker that preemptively refreshes
// tokens nearing expiry and clears expired quota cooldowns (spec §4.10).
type OAuthRefresher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// GatewayEventType discriminates the events published on the event bus
// (spec §6.3).
type GatewayEventType string

const (
	EventAttemptStarted   GatewayEventType = "attempt.started"
	EventAttemptFinished  GatewayEventType = "attempt.finished"
	EventBreakerOpened    GatewayEventType = "breaker.opened"
	EventBreakerClosed    GatewayEventType = "breaker.closed"
	EventQuotaExceeded    GatewayEventType = "oauth.quota_exceeded"
	EventTokenRefreshed   GatewayEventType = "oauth.token_refreshed"
	EventRequestCompleted GatewayEventType = "request.completed"
)

// GatewayEvent is the envelope published on pkg/eventbus for every
// noteworthy state change (spec §6.3, grounded on
// internal/adapter/proxy/core.ProxyEvent).
type GatewayEvent struct {
	Type       GatewayEventType
	At         time.Time
	TraceID    string
	ProviderID int64
	Detail     string
}
