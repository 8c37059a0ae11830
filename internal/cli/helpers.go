package cli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/storage"
)

// stores bundles the opened database handles a subcommand works against.
type stores struct {
	db     *sql.DB
	events *storage.SQLiteEventStore
	stats  *storage.SQLiteStatStore
	kv     *storage.SQLiteKVStore
	cfg    *config.Config
	path   string // database file path; empty for in-memory test stores
}

// Close releases the stores and the underlying connection.
func (s *stores) Close() {
	if s.events != nil {
		s.events.Close()
	}
	if s.stats != nil {
		s.stats.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// loadConfig resolves configuration the way every subcommand does: an
// explicit --config path must load cleanly, otherwise defaults are created
// on first use.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// openStores loads config and opens the configured database.
func openStores(globals *GlobalFlags) (*stores, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}
	return openStoresWith(cfg)
}

// openStoresWith opens the database named by cfg, runs migrations, and
// layers the user denylist onto the seeded exclusion rules.
func openStoresWith(cfg *config.Config) (*stores, error) {
	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_foreign_keys=on"
	if mode := cfg.Storage.SQLiteJournalMode; mode != "" {
		dsn += "&_journal_mode=" + strings.ToUpper(mode)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	runner := storage.NewMigrationRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	events, err := storage.NewSQLiteEventStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init event store: %w", err)
	}
	events.AddExclusions(cfg.Capture.DenylistDomains, cfg.Capture.DenylistRegex)

	stats, err := storage.NewSQLiteStatStore(db)
	if err != nil {
		events.Close()
		db.Close()
		return nil, fmt.Errorf("init stat store: %w", err)
	}

	return &stores{
		db:     db,
		events: events,
		stats:  stats,
		kv:     storage.NewSQLiteKVStore(db),
		cfg:    cfg,
		path:   dbPath,
	}, nil
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatDwell renders a millisecond total as a compact duration like "2h 05m".
func formatDwell(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
