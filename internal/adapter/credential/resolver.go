// Package credential implements the Credential Resolver (spec §4.4): it
// attaches a usable credential to an outbound request, refreshing an
// OAuth account inline when the preemptive-refresh threshold has been
// crossed, with a 30s debounce and a bounded linear backoff across
// refresh attempts.
//
// The inline-refresh/debounce shape is grounded on
// internal/adapter/discovery/service.go's atomic.Bool-guarded
// start/already-running pattern (generalised here to per-account
// single-flight) and its consecutive-failure counting. Token exchange
// itself uses golang.org/x/oauth2, and the backend account id is
// extracted from the id-token's claims via github.com/golang-jwt/jwt/v5,
// the same library jonwraymond-toolops/auth/jwt.go uses for claim
// inspection.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Resolver implements ports.CredentialResolver.
type Resolver struct {
	accounts ports.OAuthAccountStore
	log      *slog.Logger

	mu       sync.Mutex
	inFlight map[int64]*sync.Mutex // per-account single-flight for concurrent refresh attempts
}

var _ ports.CredentialResolver = (*Resolver)(nil)

// New builds a Resolver.
func New(accounts ports.OAuthAccountStore, log *slog.Logger) *Resolver {
	return &Resolver{
		accounts: accounts,
		log:      log,
		inFlight: make(map[int64]*sync.Mutex),
	}
}

// Resolve returns the auth header material for p, refreshing its OAuth
// account first when required (spec §4.4).
func (r *Resolver) Resolve(ctx context.Context, p *domain.Provider) (ports.Credential, error) {
	switch p.AuthMode {
	case domain.AuthModeAPIKey:
		key := strings.TrimSpace(p.APIKey)
		if key == "" {
			return ports.Credential{}, fmt.Errorf("provider %d: api key is empty", p.ID)
		}
		return ports.Credential{
			HeaderName:  p.CLIClass.AuthHeader(),
			HeaderValue: p.CLIClass.AuthScheme() + key,
		}, nil
	case domain.AuthModeOAuth:
		return r.resolveOAuth(ctx, p)
	default:
		return ports.Credential{}, fmt.Errorf("provider %d: unrecognised auth mode %q", p.ID, p.AuthMode)
	}
}

func (r *Resolver) resolveOAuth(ctx context.Context, p *domain.Provider) (ports.Credential, error) {
	acct, err := r.accounts.GetOAuthAccount(ctx, p.OAuthAccountID)
	if err != nil {
		return ports.Credential{}, fmt.Errorf("loading oauth account %d: %w", p.OAuthAccountID, err)
	}

	now := time.Now()
	stale := false
	if acct.NeedsPreemptiveRefresh(now) && !acct.RecentlyRefreshed(now) {
		refreshed, refreshErr := r.refreshWithRetry(ctx, acct)
		if refreshErr != nil {
			if acct.StillValid(now) {
				stale = true
				if r.log != nil {
					r.log.Warn("oauth refresh failed, reusing pre-expiry token", "account", acct.ID, "error", refreshErr)
				}
			} else {
				return ports.Credential{}, fmt.Errorf("refreshing oauth account %d: %w", acct.ID, refreshErr)
			}
		} else {
			acct = refreshed
		}
	}

	accountID := extractAccountID(acct.IDToken)
	return ports.Credential{
		HeaderName:  p.CLIClass.AuthHeader(),
		HeaderValue: p.CLIClass.AuthScheme() + acct.AccessToken,
		AccountID:   accountID,
		Stale:       stale,
	}, nil
}

// ForceRefresh performs one blocking OAuth refresh regardless of the
// preemptive-refresh threshold (spec §4.7's reactive 401 handling): a
// backend can revoke a token the preemptive check still considers valid.
// API-key providers have nothing to refresh, so it just resolves normally.
func (r *Resolver) ForceRefresh(ctx context.Context, p *domain.Provider) (ports.Credential, error) {
	if p.AuthMode != domain.AuthModeOAuth {
		return r.Resolve(ctx, p)
	}
	acct, err := r.accounts.GetOAuthAccount(ctx, p.OAuthAccountID)
	if err != nil {
		return ports.Credential{}, fmt.Errorf("loading oauth account %d: %w", p.OAuthAccountID, err)
	}
	refreshed, err := r.refreshWithRetry(ctx, acct)
	if err != nil {
		return ports.Credential{}, fmt.Errorf("reactive refresh of oauth account %d: %w", acct.ID, err)
	}
	return ports.Credential{
		HeaderName:  p.CLIClass.AuthHeader(),
		HeaderValue: p.CLIClass.AuthScheme() + refreshed.AccessToken,
		AccountID:   extractAccountID(refreshed.IDToken),
	}, nil
}

// lockFor returns the per-account single-flight mutex, creating it if
// absent.
func (r *Resolver) lockFor(id int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.inFlight[id]
	if !ok {
		m = &sync.Mutex{}
		r.inFlight[id] = m
	}
	return m
}

// refreshWithRetry performs up to 3 attempts, waiting 2s after the first
// failure and 4s after the second (spec §4.4), single-flighted per account so
// concurrent requests for the same session don't each trigger a refresh.
func (r *Resolver) refreshWithRetry(ctx context.Context, acct *domain.OAuthAccount) (*domain.OAuthAccount, error) {
	lock := r.lockFor(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	fresh, err := r.accounts.GetOAuthAccount(ctx, acct.ID)
	if err == nil && fresh.RecentlyRefreshed(time.Now()) {
		return fresh, nil
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		tok, exchErr := r.exchange(ctx, acct)
		if exchErr == nil {
			expiresAt := time.Now().Add(time.Until(tok.Expiry))
			refreshedAt := time.Now()
			if err := r.accounts.UpdateTokens(ctx, acct.ID, tok.AccessToken, refreshTokenOf(tok), idTokenOf(tok), expiresAt, refreshedAt); err != nil {
				return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
			}
			updated, getErr := r.accounts.GetOAuthAccount(ctx, acct.ID)
			if getErr != nil {
				return nil, getErr
			}
			return updated, nil
		}
		lastErr = exchErr
		_ = r.accounts.RecordRefreshFailure(ctx, acct.ID, exchErr.Error())
		if attempt < 3 {
			select {
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("oauth refresh exhausted 3 attempts: %w", lastErr)
}

// exchange performs the refresh_token grant against the account's token
// endpoint.
func (r *Resolver) exchange(ctx context.Context, acct *domain.OAuthAccount) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     acct.ClientID,
		ClientSecret: acct.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: acct.TokenEndpoint,
		},
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshToken})
	return src.Token()
}

func refreshTokenOf(tok *oauth2.Token) string {
	if tok.RefreshToken != "" {
		return tok.RefreshToken
	}
	return ""
}

func idTokenOf(tok *oauth2.Token) string {
	if raw, ok := tok.Extra("id_token").(string); ok {
		return raw
	}
	return ""
}

// extractAccountID pulls the backend account identifier out of an
// unverified id-token's claims, used only for the CLI-B
// chatgpt-account-id header (spec §4.6/§9). The token was already
// obtained from our own token exchange, so re-verifying its signature
// here buys nothing.
func extractAccountID(idToken string) string {
	if idToken == "" {
		return ""
	}
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	for _, key := range []string{"https://api.openai.com/auth", "chatgpt_account_id", "account_id"} {
		if v, ok := claims[key]; ok {
			switch t := v.(type) {
			case string:
				return t
			case map[string]interface{}:
				if id, ok := t["chatgpt_account_id"].(string); ok {
					return id
				}
			}
		}
	}
	return ""
}
