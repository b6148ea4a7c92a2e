package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thushan/olla/internal/core/ports"
)

// QueueInsert persists one completed request's row. "Queue" describes the
// caller's fire-and-forget intent (spec §6.2); the write itself is a plain
// synchronous insert here since modernc.org/sqlite has no async append API.
func (s *Store) QueueInsert(ctx context.Context, row ports.RequestLogRow) error {
	usage, err := json.Marshal(row.Usage)
	if err != nil {
		return fmt.Errorf("marshalling usage: %w", err)
	}
	attempts, err := json.Marshal(row.Attempts)
	if err != nil {
		return fmt.Errorf("marshalling attempts: %w", err)
	}
	settings, err := json.Marshal(row.SpecialSettings)
	if err != nil {
		return fmt.Errorf("marshalling special settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO request_log (trace_id, cli_class, path, started_at, duration_ms, success, final_status,
			usage, attempts, special_settings, error_category, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.TraceID, string(row.CLIClass), row.Path, row.StartedAt.UTC(), row.DurationMs, boolToInt(row.Success),
		row.FinalStatus, string(usage), string(attempts), string(settings), string(row.ErrorCategory), string(row.ErrorCode))
	if err != nil {
		return fmt.Errorf("inserting request log row: %w", err)
	}
	return nil
}
