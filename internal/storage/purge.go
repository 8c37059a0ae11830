package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// PurgeAll deletes every event, accumulation row, and kv entry in one
// transaction. Exclusion rules and schema versions survive: they are policy
// and structure, not captured data.
func PurgeAll(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		"DELETE FROM events",
		"DELETE FROM site_stats",
		"DELETE FROM kv",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
	}

	return tx.Commit()
}
