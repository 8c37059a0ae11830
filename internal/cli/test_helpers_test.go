package cli

import (
	"bytes"
	"database/sql"
	"io"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// testStores opens a migrated in-memory database bundle for command tests.
func testStores(t *testing.T) *stores {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := storage.NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	events, err := storage.NewSQLiteEventStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	stats, err := storage.NewSQLiteStatStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { stats.Close() })

	return &stores{
		db:     db,
		events: events,
		stats:  stats,
		kv:     storage.NewSQLiteKVStore(db),
		cfg:    config.DefaultConfig(),
	}
}
