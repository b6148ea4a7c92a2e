package fingerprint

import (
	"net/http"
	"testing"

	"github.com/thushan/olla/internal/core/domain"
)

func TestGate_ComputeIsStableAndBodySensitive(t *testing.T) {
	g := New()
	h := http.Header{"Content-Type": []string{"application/json"}}

	a := g.Compute("POST", "/v1/messages", h, []byte(`{"a":1}`))
	b := g.Compute("POST", "/v1/messages", h, []byte(`{"a":1}`))
	c := g.Compute("POST", "/v1/messages", h, []byte(`{"a":2}`))

	if a.Key != b.Key {
		t.Error("expected identical requests to produce identical fingerprints")
	}
	if a.Key == c.Key {
		t.Error("expected different bodies to produce different full fingerprints")
	}
	if a.UnavailableKey != c.UnavailableKey {
		t.Error("expected body-less fingerprint to ignore body differences")
	}
}

func TestGate_RecordAndRecall(t *testing.T) {
	g := New()
	key := "unavail-key"
	want := domain.GatewayError{Message: "no providers available"}

	if _, ok := g.RecentlyUnavailable(key); ok {
		t.Fatal("expected no entry before recording")
	}

	g.RecordUnavailable(key, want)

	got, ok := g.RecentlyUnavailable(key)
	if !ok {
		t.Fatal("expected entry to be recalled within the gate TTL")
	}
	if got.Message != want.Message {
		t.Errorf("expected message %q, got %q", want.Message, got.Message)
	}
}
