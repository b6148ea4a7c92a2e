package credential

import (
	"context"
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

type fakeOAuthStore struct {
	acct *domain.OAuthAccount
}

func (f *fakeOAuthStore) GetOAuthAccount(ctx context.Context, id int64) (*domain.OAuthAccount, error) {
	return f.acct, nil
}
func (f *fakeOAuthStore) ListNeedingRefresh(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error) {
	return nil, nil
}
func (f *fakeOAuthStore) ListExpiredQuotas(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error) {
	return nil, nil
}
func (f *fakeOAuthStore) UpdateTokens(ctx context.Context, id int64, access, refresh, idToken string, expiresAt, refreshedAt time.Time) error {
	f.acct.AccessToken = access
	f.acct.ExpiresAt = expiresAt
	f.acct.LastRefreshedAt = refreshedAt
	return nil
}
func (f *fakeOAuthStore) RecordRefreshFailure(ctx context.Context, id int64, lastErr string) error {
	f.acct.LastError = lastErr
	f.acct.RefreshFailureCount++
	return nil
}
func (f *fakeOAuthStore) MarkQuotaExceeded(ctx context.Context, id int64, recoverAt time.Time) error {
	return nil
}
func (f *fakeOAuthStore) ClearQuota(ctx context.Context, id int64) error { return nil }
func (f *fakeOAuthStore) MarkStatus(ctx context.Context, id int64, status domain.OAuthAccountStatus) error {
	return nil
}

func TestResolver_APIKeyCredential(t *testing.T) {
	r := New(&fakeOAuthStore{}, nil)
	p := &domain.Provider{ID: 1, CLIClass: domain.CLIClassA, AuthMode: domain.AuthModeAPIKey, APIKey: "  sk-test  "}

	cred, err := r.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.HeaderName != "x-api-key" || cred.HeaderValue != "sk-test" {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestResolver_EmptyAPIKeyErrors(t *testing.T) {
	r := New(&fakeOAuthStore{}, nil)
	p := &domain.Provider{ID: 1, CLIClass: domain.CLIClassA, AuthMode: domain.AuthModeAPIKey, APIKey: "   "}

	if _, err := r.Resolve(context.Background(), p); err == nil {
		t.Fatal("expected an error for an empty api key")
	}
}

func TestResolver_OAuthSkipsRefreshWhenNotDue(t *testing.T) {
	acct := &domain.OAuthAccount{
		ID:          1,
		AccessToken: "existing-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	store := &fakeOAuthStore{acct: acct}
	r := New(store, nil)
	p := &domain.Provider{ID: 1, CLIClass: domain.CLIClassB, AuthMode: domain.AuthModeOAuth, OAuthAccountID: 1}

	cred, err := r.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.HeaderValue != "Bearer existing-token" {
		t.Errorf("expected existing token reused, got %q", cred.HeaderValue)
	}
}
