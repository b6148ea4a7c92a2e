package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/thushan/olla/internal/adapter/sessionid"
	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// cliPrefixes maps the leading path segment of a forwarding request to its
// CLI class (spec §6.1's `{CLI}/{path...}` route, grounded on the
// `/claude/v1/messages` example in scenario S1).
var cliPrefixes = map[string]domain.CLIClass{
	"claude": domain.CLIClassA,
	"codex":  domain.CLIClassB,
	"gemini": domain.CLIClassC,
}

func (a *Application) registerRoutes() {
	a.registry.RegisterWithMethod("/healthz", a.handleHealth, "liveness check", "GET")
	for prefix := range cliPrefixes {
		route := "/" + prefix + "/"
		a.registry.RegisterProxyRoute(route, a.handleForward, prefix+" CLI forwarding", "ALL")
	}
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleForward is the primary forwarding entry point: it normalises the
// inbound request, hands it to the failover loop, and writes either the
// relayed upstream stream (already written by the loop on success) or a
// JSON error envelope on exhaustion/abort (spec §7).
func (a *Application) handleForward(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()
	w.Header().Set("x-trace-id", traceID)

	cli := cliClassForPath(r.URL.Path)
	if cli == domain.CLIClassUnknown {
		writeError(w, traceID, &domain.GatewayError{
			Category: domain.CategoryNonRetryableClient, Code: domain.CodeInvalidCLIKey,
			Message: "unrecognised CLI path prefix", TraceID: traceID, HTTPStatus: http.StatusNotFound,
		})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesErr(err) {
			writeError(w, traceID, &domain.GatewayError{
				Category: domain.CategoryNonRetryableClient, Code: domain.CodeBodyTooLarge,
				Message: "request body exceeds limit", TraceID: traceID, HTTPStatus: http.StatusRequestEntityTooLarge,
			})
			return
		}
		writeError(w, traceID, &domain.GatewayError{
			Category: domain.CategorySystemError, Code: domain.CodeInternalError,
			Message: "reading request body", TraceID: traceID, HTTPStatus: http.StatusInternalServerError, Err: err,
		})
		return
	}

	sid := sessionid.Extract(r.Header, body)

	req := &ports.InboundRequest{
		TraceID:        traceID,
		CLIClass:       cli,
		Method:         r.Method,
		Path:           r.URL.Path,
		Headers:        r.Header,
		Body:           body,
		SessionID:      sid,
		PinProviderID:  0,
		ThinkingMode:   thinkingModeFromBody(body),
		RequestedModel: modelFromBody(body),
	}

	_, err = a.loop.Handle(r.Context(), req, w)
	if err == nil {
		return
	}

	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		writeError(w, traceID, gwErr)
		return
	}
	writeError(w, traceID, &domain.GatewayError{
		Category: domain.CategorySystemError, Code: domain.CodeInternalError,
		Message: "internal failover error", TraceID: traceID, HTTPStatus: http.StatusInternalServerError, Err: err,
	})
}

func cliClassForPath(path string) domain.CLIClass {
	trimmed := strings.TrimPrefix(path, "/")
	segment, _, _ := strings.Cut(trimmed, "/")
	if cli, ok := cliPrefixes[segment]; ok {
		return cli
	}
	return domain.CLIClassUnknown
}

func thinkingModeFromBody(body []byte) bool {
	return gjson.GetBytes(body, "thinking").Exists()
}

func modelFromBody(body []byte) string {
	return gjson.GetBytes(body, "model").String()
}

func isMaxBytesErr(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeError(w http.ResponseWriter, traceID string, gwErr *domain.GatewayError) {
	status := gwErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-trace-id", traceID)
	w.WriteHeader(status)

	type errEnvelope struct {
		Code                 string                   `json:"code"`
		Message              string                   `json:"message"`
		TraceID              string                   `json:"trace_id"`
		Attempts             []domain.FailoverAttempt `json:"attempts,omitempty"`
		EarliestAvailableUnix *int64                  `json:"earliest_available_unix,omitempty"`
	}
	envelope := errEnvelope{Code: string(gwErr.Code), Message: gwErr.Message, TraceID: traceID, Attempts: gwErr.Attempts}
	if gwErr.EarliestAvailAt != nil {
		unix := gwErr.EarliestAvailAt.Unix()
		envelope.EarliestAvailableUnix = &unix
	}
	_ = json.NewEncoder(w).Encode(map[string]errEnvelope{"error": envelope})
}
