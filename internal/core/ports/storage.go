package ports

import (
	"context"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

// ProviderStore is the subset of the persistent Provider table the core
// consumes (spec §6.2). Upsert/delete are admin-surface-only and not
// exercised by the failover core itself, but are part of the contract the
// storage layer must satisfy.
type ProviderStore interface {
	ListEnabledByCLIClass(ctx context.Context, cli domain.CLIClass) ([]*domain.Provider, error)
	GetProvider(ctx context.Context, id int64) (*domain.Provider, error)
	Upsert(ctx context.Context, p *domain.Provider) error
	Delete(ctx context.Context, id int64) error
}

// OAuthAccountStore is the subset of the persistent OAuth Account table the
// core consumes (spec §6.2/§4.4/§4.10).
type OAuthAccountStore interface {
	GetOAuthAccount(ctx context.Context, id int64) (*domain.OAuthAccount, error)
	ListNeedingRefresh(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error)
	ListExpiredQuotas(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error)
	UpdateTokens(ctx context.Context, id int64, access, refresh, idToken string, expiresAt time.Time, refreshedAt time.Time) error
	RecordRefreshFailure(ctx context.Context, id int64, lastErr string) error
	MarkQuotaExceeded(ctx context.Context, id int64, recoverAt time.Time) error
	ClearQuota(ctx context.Context, id int64) error
	MarkStatus(ctx context.Context, id int64, status domain.OAuthAccountStatus) error
}

// BreakerStore persists circuit-breaker snapshots across restarts (spec
// §6.2/§9 - "storage table for cross-restart persistence").
type BreakerStore interface {
	GetBreakerSnapshot(ctx context.Context, providerID int64) (domain.BreakerSnapshot, bool, error)
	UpsertBreakerSnapshot(ctx context.Context, snap domain.BreakerSnapshot) error
}

// SortModeStore lists named, ordered provider subsets used in place of the
// default priority ordering (spec §3/§4.3).
type SortModeStore interface {
	ActiveModeForCLIClass(ctx context.Context, cli domain.CLIClass) (int64, bool, error)
	ListProvidersInMode(ctx context.Context, sortModeID int64) ([]SortModeEntry, error)
}

// SortModeEntry is one row of a sort mode's provider ordering.
type SortModeEntry struct {
	ProviderID int64
	SortOrder  int
	Enabled    bool
}

// RequestLogStore queues request-log rows for later durable storage (spec
// §6.2). The queue-insert is fire-and-forget from the core's perspective.
type RequestLogStore interface {
	QueueInsert(ctx context.Context, row RequestLogRow) error
}

// RequestLogRow is one completed request's durable record.
type RequestLogRow struct {
	TraceID         string
	CLIClass        domain.CLIClass
	Path            string
	StartedAt       time.Time
	DurationMs      int64
	Success         bool
	FinalStatus     int
	Usage           domain.Usage
	Attempts        []domain.FailoverAttempt
	SpecialSettings []domain.SpecialSetting
	ErrorCategory   domain.ErrorCategory
	ErrorCode       domain.ErrorCode
}

// Store aggregates every storage interface the core requires, satisfied by
// a single internal/storage/sqlite.Store instance (spec §6.2).
type Store interface {
	ProviderStore
	OAuthAccountStore
	BreakerStore
	SortModeStore
	RequestLogStore
}
