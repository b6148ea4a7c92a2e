// Package sender implements the Upstream Sender (spec §4.6): it builds and
// issues one HTTP request to one provider, applying CLI-class-specific
// header/body rewrites, auth injection, and model-slot mapping before the
// request leaves the gateway.
//
// Grounded on internal/adapter/proxy/core/retry.go's ProxyFunc shape
// (endpoint + stats in, single attempt out) and on
// internal/adapter/proxy/core/streaming.go's content-type sniffing
// helpers. Backend-specific body rewrites use github.com/tidwall/sjson,
// the same library the llm-mux example repos in the retrieval pack use
// for request-body mutation.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/sjson"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
	"github.com/thushan/olla/internal/util"
)

// Config tunes the per-phase timeouts applied to outbound requests.
type Config struct {
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
}

// DefaultConfig matches spec §4.6's named defaults.
func DefaultConfig() Config {
	return Config{ConnectTimeout: 10 * time.Second, HeaderTimeout: 30 * time.Second}
}

// Sender implements ports.UpstreamSender over a shared *http.Client.
type Sender struct {
	client *http.Client
	cfg    Config
}

var _ ports.UpstreamSender = (*Sender)(nil)

// New builds a Sender. client is expected to be a long-lived, connection-
// pooling client shared across all attempts. When client has no Transport,
// New gives it one that applies cfg's connect and response-header timeouts;
// a client that brings its own Transport keeps it, and cfg is not applied.
func New(client *http.Client, cfg Config) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	if client.Transport == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		transport.ResponseHeaderTimeout = cfg.HeaderTimeout
		client.Transport = transport
	}
	return &Sender{client: client, cfg: cfg}
}

// Send builds and issues one outbound request per req (spec §4.6).
func (s *Sender) Send(ctx context.Context, req *ports.SendRequest) (*http.Response, error) {
	body, err := s.rewriteBody(req)
	if err != nil {
		return nil, fmt.Errorf("rewriting request body: %w", err)
	}

	target := util.JoinURLPath(req.Provider.PrimaryBaseURL(), s.rewritePath(req))
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Del("Content-Encoding") // upstream always receives a plain body we control
	httpReq.Header.Del("Content-Length")
	httpReq.ContentLength = int64(len(body))

	for k, v := range req.Provider.CLIClass.RequiredHeaders() {
		if httpReq.Header.Get(k) == "" {
			httpReq.Header.Set(k, v)
		}
	}
	httpReq.Header.Set(req.Credential.HeaderName, req.Credential.HeaderValue)

	if req.Provider.CLIClass == domain.CLIClassB {
		if req.Credential.AccountID != "" {
			httpReq.Header.Set("chatgpt-account-id", req.Credential.AccountID)
		}
		httpReq.Header.Set("originator", "codex-cli-gateway")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// rewritePath sends every CLI-B request to CLIClassB.ResponsesPath()
// ("/responses") on the provider's base URL, whatever the inbound path; no
// part of the inbound CLI-B path is kept. Other CLI classes forward req.Path
// unchanged.
func (s *Sender) rewritePath(req *ports.SendRequest) string {
	if req.Provider.CLIClass == domain.CLIClassB {
		if rp := domain.CLIClassB.ResponsesPath(); rp != "" {
			return rp
		}
	}
	return req.Path
}

// rewriteBody applies the model-slot mapping (CLI-A) and the CLI-B
// store:false rewrite, leaving the body untouched when neither applies
// (invariant: empty model slots forward the body byte-for-byte).
func (s *Sender) rewriteBody(req *ports.SendRequest) ([]byte, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}

	switch req.Provider.CLIClass {
	case domain.CLIClassA:
		if req.Provider.ModelSlots.Empty() {
			return raw, nil
		}
		mapped := req.Provider.ResolveModel(req.RequestedModel, req.ThinkingMode)
		if mapped == req.RequestedModel {
			return raw, nil
		}
		out, err := sjson.SetBytes(raw, "model", mapped)
		if err != nil {
			return nil, err
		}
		return out, nil
	case domain.CLIClassB:
		if !json.Valid(raw) {
			return raw, nil
		}
		out, err := sjson.SetBytes(raw, "store", false)
		if err != nil {
			return raw, nil
		}
		return out, nil
	default:
		return raw, nil
	}
}
