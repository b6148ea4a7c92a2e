package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thushan/olla/internal/core/domain"
)

// GetBreakerSnapshot fetches the persisted breaker snapshot for
// providerID, if any (spec §9 cross-restart durability).
func (s *Store) GetBreakerSnapshot(ctx context.Context, providerID int64) (domain.BreakerSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider_id, state, fail_count, threshold, open_until FROM breaker_snapshots WHERE provider_id = ?`,
		providerID)

	var snap domain.BreakerSnapshot
	var state string
	var openUntil sql.NullTime
	err := row.Scan(&snap.ProviderID, &state, &snap.FailCount, &snap.Threshold, &openUntil)
	if err == sql.ErrNoRows {
		return domain.BreakerSnapshot{}, false, nil
	}
	if err != nil {
		return domain.BreakerSnapshot{}, false, fmt.Errorf("loading breaker snapshot for provider %d: %w", providerID, err)
	}
	snap.State = domain.BreakerState(state)
	snap.OpenUntil = openUntil.Time
	return snap, true, nil
}

// UpsertBreakerSnapshot writes through a breaker transition so it survives
// a restart.
func (s *Store) UpsertBreakerSnapshot(ctx context.Context, snap domain.BreakerSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker_snapshots (provider_id, state, fail_count, threshold, open_until)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			state=excluded.state, fail_count=excluded.fail_count, threshold=excluded.threshold, open_until=excluded.open_until`,
		snap.ProviderID, string(snap.State), snap.FailCount, snap.Threshold, snap.OpenUntil.UTC())
	if err != nil {
		return fmt.Errorf("upserting breaker snapshot for provider %d: %w", snap.ProviderID, err)
	}
	return nil
}
