package sender

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

func TestSender_InjectsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.Client(), DefaultConfig())
	p := &domain.Provider{BaseURLs: []string{srv.URL}, CLIClass: domain.CLIClassA}

	req := &ports.SendRequest{
		Provider:   p,
		Credential: ports.Credential{HeaderName: "x-api-key", HeaderValue: "sk-abc"},
		Method:     http.MethodPost,
		Path:       "/v1/messages",
		Headers:    http.Header{},
		Body:       bytes.NewReader([]byte(`{}`)),
	}

	resp, err := s.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if gotAuth != "sk-abc" {
		t.Errorf("expected auth header sk-abc, got %q", gotAuth)
	}
}

func TestSender_ModelSlotMapping(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.Client(), DefaultConfig())
	p := &domain.Provider{
		BaseURLs:   []string{srv.URL},
		CLIClass:   domain.CLIClassA,
		ModelSlots: domain.ModelSlots{Main: "backend-main-model"},
	}

	req := &ports.SendRequest{
		Provider:       p,
		Credential:     ports.Credential{HeaderName: "x-api-key", HeaderValue: "sk-abc"},
		Method:         http.MethodPost,
		Path:           "/v1/messages",
		Headers:        http.Header{},
		Body:           bytes.NewReader([]byte(`{"model":"claude-3-haiku-requested"}`)),
		RequestedModel: "claude-3-haiku-requested",
	}

	resp, err := s.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if !bytes.Contains(gotBody, []byte(`"backend-main-model"`)) {
		t.Errorf("expected body to carry mapped model, got %s", gotBody)
	}
}

