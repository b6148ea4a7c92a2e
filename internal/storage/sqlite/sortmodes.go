package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// ActiveModeForCLIClass returns the currently-active sort mode id for cli,
// if one is set (spec §3/§4.3).
func (s *Store) ActiveModeForCLIClass(ctx context.Context, cli domain.CLIClass) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM sort_modes WHERE cli_class = ? AND active = 1 LIMIT 1", string(cli)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading active sort mode for %s: %w", cli, err)
	}
	return id, true, nil
}

// ListProvidersInMode returns the ordered provider entries for a sort mode.
func (s *Store) ListProvidersInMode(ctx context.Context, sortModeID int64) ([]ports.SortModeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, sort_order, enabled FROM sort_mode_entries
		WHERE sort_mode_id = ? ORDER BY sort_order ASC`, sortModeID)
	if err != nil {
		return nil, fmt.Errorf("listing providers for sort mode %d: %w", sortModeID, err)
	}
	defer rows.Close()

	var out []ports.SortModeEntry
	for rows.Next() {
		var e ports.SortModeEntry
		var enabled int
		if err := rows.Scan(&e.ProviderID, &e.SortOrder, &enabled); err != nil {
			return nil, err
		}
		e.Enabled = enabled != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
