package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

const oauthAccountColumns = `id, cli_class, label, email, provider, access_token, refresh_token, id_token,
	token_endpoint, client_id, client_secret, expires_at, refresh_lead_secs, last_refreshed_at, status,
	quota_exceeded, quota_recover_at, refresh_success_count, refresh_failure_count, last_error`

// GetOAuthAccount fetches one OAuth account by id.
func (s *Store) GetOAuthAccount(ctx context.Context, id int64) (*domain.OAuthAccount, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+oauthAccountColumns+" FROM oauth_accounts WHERE id = ?", id)
	return scanOAuthAccount(row)
}

// ListNeedingRefresh returns accounts whose lead-time threshold has been
// crossed, capped at limit rows (spec §4.4/§4.10).
func (s *Store) ListNeedingRefresh(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+oauthAccountColumns+` FROM oauth_accounts
		WHERE status != 'disabled'
		  AND datetime(expires_at, '-' || refresh_lead_secs || ' seconds') <= ?
		ORDER BY expires_at ASC LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing accounts needing refresh: %w", err)
	}
	defer rows.Close()
	return scanOAuthAccounts(rows)
}

// ListExpiredQuotas returns accounts whose quota cooldown has elapsed,
// capped at limit rows.
func (s *Store) ListExpiredQuotas(ctx context.Context, now time.Time, limit int) ([]*domain.OAuthAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+oauthAccountColumns+` FROM oauth_accounts
		WHERE quota_exceeded = 1 AND quota_recover_at <= ?
		ORDER BY quota_recover_at ASC LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired quotas: %w", err)
	}
	defer rows.Close()
	return scanOAuthAccounts(rows)
}

// UpdateTokens records a successful refresh (spec §4.4).
func (s *Store) UpdateTokens(ctx context.Context, id int64, access, refresh, idToken string, expiresAt, refreshedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE oauth_accounts SET access_token=?, refresh_token=?, id_token=?, expires_at=?, last_refreshed_at=?,
			status='active', refresh_success_count = refresh_success_count + 1, last_error=''
		WHERE id = ?`, access, refresh, idToken, expiresAt.UTC(), refreshedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("updating tokens for account %d: %w", id, err)
	}
	return nil
}

// RecordRefreshFailure records a failed refresh attempt without mutating
// the existing token (the stale-token fallback of spec §4.4 lives at the
// credential resolver, not here).
func (s *Store) RecordRefreshFailure(ctx context.Context, id int64, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE oauth_accounts SET refresh_failure_count = refresh_failure_count + 1, last_error=?
		WHERE id = ?`, lastErr, id)
	if err != nil {
		return fmt.Errorf("recording refresh failure for account %d: %w", id, err)
	}
	return nil
}

// MarkQuotaExceeded flags an account as rate-limited until recoverAt.
func (s *Store) MarkQuotaExceeded(ctx context.Context, id int64, recoverAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE oauth_accounts SET quota_exceeded=1, quota_recover_at=?, status='quota-cooldown' WHERE id = ?`,
		recoverAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("marking quota exceeded for account %d: %w", id, err)
	}
	return nil
}

// ClearQuota lifts a quota-exceeded cooldown once elapsed (spec §4.10).
func (s *Store) ClearQuota(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE oauth_accounts SET quota_exceeded=0, status='active' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clearing quota for account %d: %w", id, err)
	}
	return nil
}

// MarkStatus sets an account's lifecycle status directly.
func (s *Store) MarkStatus(ctx context.Context, id int64, status domain.OAuthAccountStatus) error {
	_, err := s.db.ExecContext(ctx, "UPDATE oauth_accounts SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("marking status for account %d: %w", id, err)
	}
	return nil
}

func scanOAuthAccounts(rows *sql.Rows) ([]*domain.OAuthAccount, error) {
	var out []*domain.OAuthAccount
	for rows.Next() {
		a, err := scanOAuthAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanOAuthAccount(row scannable) (*domain.OAuthAccount, error) {
	var a domain.OAuthAccount
	var cliClass, status string
	var expiresAt, lastRefreshedAt, quotaRecoverAt sql.NullTime
	var quotaExceeded int

	err := row.Scan(&a.ID, &cliClass, &a.Label, &a.Email, &a.Provider, &a.AccessToken, &a.RefreshToken, &a.IDToken,
		&a.TokenEndpoint, &a.ClientID, &a.ClientSecret, &expiresAt, &a.RefreshLeadSecs, &lastRefreshedAt, &status,
		&quotaExceeded, &quotaRecoverAt, &a.RefreshSuccessCount, &a.RefreshFailureCount, &a.LastError)
	if err != nil {
		return nil, err
	}

	a.CLIClass = domain.CLIClass(cliClass)
	a.Status = domain.OAuthAccountStatus(status)
	a.QuotaExceeded = quotaExceeded != 0
	a.ExpiresAt = expiresAt.Time
	a.LastRefreshedAt = lastRefreshedAt.Time
	a.QuotaRecoverAt = quotaRecoverAt.Time
	return &a, nil
}
