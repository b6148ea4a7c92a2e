package oauthrefresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

type fakeAccountStore struct {
	due           []*domain.OAuthAccount
	expiredQuotas []*domain.OAuthAccount
	clearedCount  atomic.Int64
}

func (f *fakeAccountStore) GetOAuthAccount(ctx context.Context, id int64) (*domain.OAuthAccount, error) {
	return nil, nil
}
func (f *fakeAccountStore) ListNeedingRefresh(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error) {
	return f.due, nil
}
func (f *fakeAccountStore) ListExpiredQuotas(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error) {
	return f.expiredQuotas, nil
}
func (f *fakeAccountStore) UpdateTokens(ctx context.Context, id int64, access, refresh, idToken string, expiresAt, refreshedAt time.Time) error {
	return nil
}
func (f *fakeAccountStore) RecordRefreshFailure(ctx context.Context, id int64, lastErr string) error {
	return nil
}
func (f *fakeAccountStore) MarkQuotaExceeded(ctx context.Context, id int64, recoverAt time.Time) error {
	return nil
}
func (f *fakeAccountStore) ClearQuota(ctx context.Context, id int64) error {
	f.clearedCount.Add(1)
	return nil
}
func (f *fakeAccountStore) MarkStatus(ctx context.Context, id int64, status domain.OAuthAccountStatus) error {
	return nil
}

type fakeResolver struct {
	calls atomic.Int64
}

func (f *fakeResolver) Resolve(ctx context.Context, p *domain.Provider) (ports.Credential, error) {
	f.calls.Add(1)
	return ports.Credential{}, nil
}

func (f *fakeResolver) ForceRefresh(ctx context.Context, p *domain.Provider) (ports.Credential, error) {
	return f.Resolve(ctx, p)
}

func TestRefresher_TickClearsExpiredQuotasAndRefreshesDue(t *testing.T) {
	store := &fakeAccountStore{
		due:           []*domain.OAuthAccount{{ID: 1}, {ID: 2}},
		expiredQuotas: []*domain.OAuthAccount{{ID: 3}},
	}
	resolver := &fakeResolver{}
	r := New(store, resolver, DefaultConfig(), nil)

	if err := r.tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.clearedCount.Load() != 1 {
		t.Errorf("expected 1 quota cleared, got %d", store.clearedCount.Load())
	}
	if resolver.calls.Load() != 2 {
		t.Errorf("expected 2 accounts refreshed, got %d", resolver.calls.Load())
	}
}

func TestRefresher_StartStopIdempotent(t *testing.T) {
	store := &fakeAccountStore{}
	r := New(store, &fakeResolver{}, Config{Interval: time.Hour, ConcurrentWorkers: 1, BatchLimit: 10}, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to error")
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error stopping: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("expected second Stop to be a no-op, got: %v", err)
	}
}
