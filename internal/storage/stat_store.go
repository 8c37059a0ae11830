package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StatStore defines operations on the per-URL, per-day accumulation table.
type StatStore interface {
	UpsertAccumulation(ctx context.Context, delta StatDelta) (string, error)
	QueryDaily(ctx context.Context, q StatQuery) ([]SiteStat, error)
	TotalsBy(ctx context.Context, q StatQuery, group StatGroup) ([]GroupedStat, error)
	TopByParentDomain(ctx context.Context, sinceDay string, limit int) ([]DomainTotal, error)
	DeleteOlderThan(ctx context.Context, day string) (int64, error)
	CountOlderThan(ctx context.Context, day string) (int64, error)
	Totals(ctx context.Context) (StatTotals, error)
	Close() error
}

// SQLiteStatStore implements StatStore backed by a SQLite database.
type SQLiteStatStore struct {
	db *sql.DB

	upsertStat *sql.Stmt
}

// NewSQLiteStatStore creates a SQLiteStatStore from an already-opened and
// migrated database.
func NewSQLiteStatStore(db *sql.DB) (*SQLiteStatStore, error) {
	s := &SQLiteStatStore{db: db}

	var err error
	s.upsertStat, err = db.Prepare(`
		INSERT INTO site_stats (key, day, url, hostname, parent_domain, open_ms, active_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			open_ms = open_ms + excluded.open_ms,
			active_ms = active_ms + excluded.active_ms,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}

	return s, nil
}

// UpsertAccumulation adds a delta into the row keyed by (day, url), creating
// the row if it does not exist. The add is performed inside the statement so
// that replaying the same delta twice doubles the total; callers must mark
// source events processed to keep accumulation at-most-once.
func (s *SQLiteStatStore) UpsertAccumulation(ctx context.Context, delta StatDelta) (string, error) {
	key := StatKey(delta.Day, delta.URL)

	_, err := s.upsertStat.ExecContext(ctx,
		key, delta.Day, delta.URL, delta.Hostname, delta.ParentDomain,
		delta.OpenMS, delta.ActiveMS, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("upsert accumulation %s: %w", key, err)
	}
	return key, nil
}

// QueryDaily returns accumulation rows matching the query, newest day first,
// largest open time first within a day.
func (s *SQLiteStatStore) QueryDaily(ctx context.Context, q StatQuery) ([]SiteStat, error) {
	query := `
		SELECT key, day, url, hostname, parent_domain, open_ms, active_ms, updated_at
		FROM site_stats
		WHERE 1=1
	`
	var args []interface{}

	if q.SinceDay != "" {
		query += " AND day >= ?"
		args = append(args, q.SinceDay)
	}
	if q.UntilDay != "" {
		query += " AND day <= ?"
		args = append(args, q.UntilDay)
	}
	if q.ParentDomain != "" {
		query += " AND parent_domain = ?"
		args = append(args, q.ParentDomain)
	}
	if q.Hostname != "" {
		query += " AND hostname = ?"
		args = append(args, q.Hostname)
	}

	query += " ORDER BY day DESC, open_ms DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []SiteStat
	for rows.Next() {
		var st SiteStat
		var updatedAt string
		if err := rows.Scan(
			&st.Key, &st.Day, &st.URL, &st.Hostname, &st.ParentDomain,
			&st.OpenMS, &st.ActiveMS, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			st.UpdatedAt = t
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats == nil {
		stats = []SiteStat{}
	}
	return stats, nil
}

// TotalsBy sums open and active time over the queried window, grouped by
// the given column. Day groups come back newest first; everything else is
// ordered by open time, heaviest first.
func (s *SQLiteStatStore) TotalsBy(ctx context.Context, q StatQuery, group StatGroup) ([]GroupedStat, error) {
	if !group.Valid() {
		return nil, fmt.Errorf("unknown stat grouping %q", group)
	}

	// group is a closed enum, so the column name is safe to splice in.
	col := string(group)
	query := fmt.Sprintf(`
		SELECT %s, SUM(open_ms), SUM(active_ms), COUNT(*)
		FROM site_stats
		WHERE 1=1
	`, col)
	var args []interface{}

	if q.SinceDay != "" {
		query += " AND day >= ?"
		args = append(args, q.SinceDay)
	}
	if q.UntilDay != "" {
		query += " AND day <= ?"
		args = append(args, q.UntilDay)
	}
	if q.ParentDomain != "" {
		query += " AND parent_domain = ?"
		args = append(args, q.ParentDomain)
	}
	if q.Hostname != "" {
		query += " AND hostname = ?"
		args = append(args, q.Hostname)
	}

	query += " GROUP BY " + col
	if group == GroupByDay {
		query += " ORDER BY day DESC"
	} else {
		query += " ORDER BY SUM(open_ms) DESC"
	}

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grouped stats: %w", err)
	}
	defer rows.Close()

	var out []GroupedStat
	for rows.Next() {
		var g GroupedStat
		if err := rows.Scan(&g.Key, &g.OpenMS, &g.ActiveMS, &g.Rows); err != nil {
			return nil, fmt.Errorf("scan grouped stat: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if out == nil {
		out = []GroupedStat{}
	}
	return out, nil
}

// TopByParentDomain sums open and active time per registrable domain since
// the given day and returns the heaviest domains first.
func (s *SQLiteStatStore) TopByParentDomain(ctx context.Context, sinceDay string, limit int) ([]DomainTotal, error) {
	if limit <= 0 {
		limit = 10
	}

	grouped, err := s.TotalsBy(ctx, StatQuery{SinceDay: sinceDay, Limit: limit}, GroupByParentDomain)
	if err != nil {
		return nil, err
	}

	totals := make([]DomainTotal, len(grouped))
	for i, g := range grouped {
		totals[i] = DomainTotal{ParentDomain: g.Key, OpenMS: g.OpenMS, ActiveMS: g.ActiveMS}
	}
	return totals, nil
}

// DeleteOlderThan removes accumulation rows whose day sorts before the given
// day string (YYYY-MM-DD) and returns how many were removed.
func (s *SQLiteStatStore) DeleteOlderThan(ctx context.Context, day string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM site_stats WHERE day < ?", day)
	if err != nil {
		return 0, fmt.Errorf("delete old stats: %w", err)
	}
	return res.RowsAffected()
}

// CountOlderThan reports how many accumulation rows sort before the given
// day, without deleting anything.
func (s *SQLiteStatStore) CountOlderThan(ctx context.Context, day string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM site_stats WHERE day < ?", day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count old stats: %w", err)
	}
	return n, nil
}

// Totals returns table-wide counts used by the status command.
func (s *SQLiteStatStore) Totals(ctx context.Context) (StatTotals, error) {
	var t StatTotals
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(open_ms), 0), COALESCE(SUM(active_ms), 0), MIN(day), MAX(day)
		FROM site_stats
	`).Scan(&t.Rows, &t.OpenMS, &t.ActiveMS, &oldest, &newest)
	if err != nil {
		return t, fmt.Errorf("stat totals: %w", err)
	}
	if oldest.Valid {
		t.OldestDay = oldest.String
	}
	if newest.Valid {
		t.NewestDay = newest.String
	}
	return t, nil
}

// Close releases prepared statements. The underlying *sql.DB is NOT closed.
func (s *SQLiteStatStore) Close() error {
	if s.upsertStat != nil {
		s.upsertStat.Close()
	}
	return nil
}
