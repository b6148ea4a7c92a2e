package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thushan/olla/internal/core/domain"
)

// ListEnabledByCLIClass returns every enabled provider for cli, ordered by
// SortOrder then Priority desc, matching the selector's expected input
// order (spec §4.3).
func (s *Store) ListEnabledByCLIClass(ctx context.Context, cli domain.CLIClass) ([]*domain.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cli_class, base_urls, url_mode, auth_mode, api_key, oauth_account_id,
		       model_slots, limits, enabled, priority, cost_multiplier, tags, sort_order
		FROM providers WHERE cli_class = ? AND enabled = 1
		ORDER BY sort_order ASC, priority DESC`, string(cli))
	if err != nil {
		return nil, fmt.Errorf("listing enabled providers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProvider fetches one provider by id.
func (s *Store) GetProvider(ctx context.Context, id int64) (*domain.Provider, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cli_class, base_urls, url_mode, auth_mode, api_key, oauth_account_id,
		       model_slots, limits, enabled, priority, cost_multiplier, tags, sort_order
		FROM providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %d not found", id)
	}
	return p, err
}

// Upsert inserts or updates a provider by id. id == 0 inserts and the
// provider's ID field is populated with the assigned rowid.
func (s *Store) Upsert(ctx context.Context, p *domain.Provider) error {
	baseURLs, err := json.Marshal(p.BaseURLs)
	if err != nil {
		return fmt.Errorf("marshalling base_urls: %w", err)
	}
	slots, err := json.Marshal(p.ModelSlots)
	if err != nil {
		return fmt.Errorf("marshalling model_slots: %w", err)
	}
	limits, err := json.Marshal(p.Limits)
	if err != nil {
		return fmt.Errorf("marshalling limits: %w", err)
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if p.ID == 0 {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO providers (name, cli_class, base_urls, url_mode, auth_mode, api_key,
					oauth_account_id, model_slots, limits, enabled, priority, cost_multiplier, tags, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.Name, string(p.CLIClass), string(baseURLs), string(p.URLMode), string(p.AuthMode), p.APIKey,
				p.OAuthAccountID, string(slots), string(limits), boolToInt(p.Enabled), p.Priority, p.CostMultiplier,
				string(tags), p.SortOrder)
			if err != nil {
				return fmt.Errorf("inserting provider: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading inserted provider id: %w", err)
			}
			p.ID = id
			return nil
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE providers SET name=?, cli_class=?, base_urls=?, url_mode=?, auth_mode=?, api_key=?,
				oauth_account_id=?, model_slots=?, limits=?, enabled=?, priority=?, cost_multiplier=?, tags=?, sort_order=?
			WHERE id = ?`,
			p.Name, string(p.CLIClass), string(baseURLs), string(p.URLMode), string(p.AuthMode), p.APIKey,
			p.OAuthAccountID, string(slots), string(limits), boolToInt(p.Enabled), p.Priority, p.CostMultiplier,
			string(tags), p.SortOrder, p.ID)
		if err != nil {
			return fmt.Errorf("updating provider %d: %w", p.ID, err)
		}
		return nil
	})
}

// Delete removes a provider by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM providers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting provider %d: %w", id, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProvider(row scannable) (*domain.Provider, error) {
	var p domain.Provider
	var cliClass, urlMode, authMode string
	var baseURLs, slots, limits, tags string
	var enabled int

	err := row.Scan(&p.ID, &p.Name, &cliClass, &baseURLs, &urlMode, &authMode, &p.APIKey, &p.OAuthAccountID,
		&slots, &limits, &enabled, &p.Priority, &p.CostMultiplier, &tags, &p.SortOrder)
	if err != nil {
		return nil, err
	}

	p.CLIClass = domain.CLIClass(cliClass)
	p.URLMode = domain.URLSelectionMode(urlMode)
	p.AuthMode = domain.AuthMode(authMode)
	p.Enabled = enabled != 0

	if err := json.Unmarshal([]byte(baseURLs), &p.BaseURLs); err != nil {
		return nil, fmt.Errorf("unmarshalling base_urls for provider %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(slots), &p.ModelSlots); err != nil {
		return nil, fmt.Errorf("unmarshalling model_slots for provider %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(limits), &p.Limits); err != nil {
		return nil, fmt.Errorf("unmarshalling limits for provider %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags for provider %d: %w", p.ID, err)
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
