package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thushan/olla/internal/core/domain"
)

func TestCliClassForPath(t *testing.T) {
	cases := map[string]domain.CLIClass{
		"/claude/v1/messages": domain.CLIClassA,
		"/codex/v1/responses": domain.CLIClassB,
		"/gemini/v1/generate": domain.CLIClassC,
		"/unknown/v1/foo":     domain.CLIClassUnknown,
		"/":                   domain.CLIClassUnknown,
	}
	for path, want := range cases {
		if got := cliClassForPath(path); got != want {
			t.Errorf("cliClassForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestThinkingModeFromBody(t *testing.T) {
	if !thinkingModeFromBody([]byte(`{"thinking":{"type":"enabled"}}`)) {
		t.Error("expected thinking mode detected")
	}
	if thinkingModeFromBody([]byte(`{"model":"claude-3-opus"}`)) {
		t.Error("expected no thinking mode")
	}
	if thinkingModeFromBody(nil) {
		t.Error("expected no thinking mode for empty body")
	}
}

func TestModelFromBody(t *testing.T) {
	if got := modelFromBody([]byte(`{"model":"claude-3-opus-20240229"}`)); got != "claude-3-opus-20240229" {
		t.Errorf("modelFromBody() = %q", got)
	}
	if got := modelFromBody([]byte(`{}`)); got != "" {
		t.Errorf("modelFromBody() on missing field = %q, want empty", got)
	}
}

func TestIsMaxBytesErr(t *testing.T) {
	if !isMaxBytesErr(&http.MaxBytesError{Limit: 10}) {
		t.Error("expected MaxBytesError to be recognised")
	}
	if isMaxBytesErr(errors.New("some other error")) {
		t.Error("expected plain error to not be recognised as MaxBytesError")
	}
}

func TestWriteErrorBuildsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	gwErr := &domain.GatewayError{
		Category:   domain.CategoryAuth,
		Code:       domain.CodeInvalidCLIKey,
		Message:    "missing credential",
		HTTPStatus: http.StatusUnauthorized,
	}
	writeError(rec, "trace-123", gwErr)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("x-trace-id"); got != "trace-123" {
		t.Errorf("x-trace-id header = %q", got)
	}

	var body map[string]struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		TraceID string `json:"trace_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	errField, ok := body["error"]
	if !ok {
		t.Fatal("expected top-level \"error\" key")
	}
	if errField.Code != string(domain.CodeInvalidCLIKey) {
		t.Errorf("error.code = %q", errField.Code)
	}
	if errField.TraceID != "trace-123" {
		t.Errorf("error.trace_id = %q", errField.TraceID)
	}
}

func TestWriteErrorDefaultsStatusWhenUnset(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, "trace-456", &domain.GatewayError{Message: "boom"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected default 500, got %d", rec.Code)
	}
}
