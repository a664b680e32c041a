package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates JSONB GIN indexes for PostgreSQL.
// These indexes enable efficient containment queries over the call-event
// audit payloads, which the plain migration files keep free of
// Postgres-version-specific index syntax.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_call_events_payload_gin
		ON call_events USING gin(event_data jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create call_events payload GIN index: %w", err)
	}

	return nil
}
