package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// EventStore defines event-log operations for dwell data.
//
// The log is append-only. AppendEvents inserts capture batches (silently
// dropping events whose hostname matches an exclusion rule); the
// aggregation engine consumes the log through FetchUnprocessed and
// MarkProcessed and never deletes anything. Retention deletion of old
// processed events goes through DeleteProcessedBefore.
type EventStore interface {
	AppendEvents(ctx context.Context, events []Event) (int, error)
	FetchUnprocessed(ctx context.Context) ([]Event, error)
	MarkProcessed(ctx context.Context, ids []int64) (int64, error)
	Counts(ctx context.Context) (EventCounts, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// SQLiteEventStore implements EventStore backed by a SQLite database.
type SQLiteEventStore struct {
	db *sql.DB

	// Prepared statements
	insertEvent *sql.Stmt

	// Cached exclusion rules (loaded once at init)
	domainExclusions []string
	regexExclusions  []*regexp.Regexp
}

// NewSQLiteEventStore creates a SQLiteEventStore from an already-opened and
// migrated database.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	if err := s.loadExclusions(); err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}

	return s, nil
}

func (s *SQLiteEventStore) prepareStatements() error {
	var err error

	s.insertEvent, err = s.db.Prepare(`
		INSERT INTO events (ts_ms, event_type, tab_id, url, visit_id, activity_id, is_processed, resolution)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

// loadExclusions loads domain and regex exclusion rules from the database.
func (s *SQLiteEventStore) loadExclusions() error {
	rows, err := s.db.Query("SELECT rule_type, rule_value FROM exclusions")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ruleType, ruleValue string
		if err := rows.Scan(&ruleType, &ruleValue); err != nil {
			return err
		}
		switch ruleType {
		case "domain":
			s.domainExclusions = append(s.domainExclusions, ruleValue)
		case "regex":
			re, err := regexp.Compile(ruleValue)
			if err != nil {
				continue // skip invalid regex
			}
			s.regexExclusions = append(s.regexExclusions, re)
		}
	}

	return rows.Err()
}

// IsExcluded checks if a hostname is blocked by exclusion rules.
func (s *SQLiteEventStore) IsExcluded(hostname string) bool {
	for _, d := range s.domainExclusions {
		if d == hostname || strings.HasSuffix(hostname, "."+d) {
			return true
		}
	}
	for _, re := range s.regexExclusions {
		if re.MatchString(hostname) {
			return true
		}
	}
	return false
}

// AddExclusions layers runtime exclusion rules, typically from the config
// file, on top of the persisted ones. Invalid regex patterns are skipped.
func (s *SQLiteEventStore) AddExclusions(domains, regexes []string) {
	s.domainExclusions = append(s.domainExclusions, domains...)
	for _, raw := range regexes {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		s.regexExclusions = append(s.regexExclusions, re)
	}
}

// AppendEvents inserts a batch of events in one transaction and returns how
// many were stored. Events whose URL hostname matches an exclusion rule are
// skipped without error; an unparseable URL is stored as-is since rejecting
// it here would hide it from the aggregation engine's own validation.
func (s *SQLiteEventStore) AppendEvents(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, s.insertEvent)
	stored := 0
	for i := range events {
		e := &events[i]
		if host := extractHostname(e.URL); host != "" && s.IsExcluded(host) {
			continue
		}

		res, err := stmt.ExecContext(ctx,
			e.Timestamp, string(e.Type), e.TabID, e.URL, e.VisitID,
			nullIfEmpty(e.ActivityID), nullIfEmpty(e.Resolution),
		)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// FetchUnprocessed returns every event not yet folded into an accumulation,
// in insertion order. The aggregation engine relies on that order as the
// tie-break when two events share a millisecond.
func (s *SQLiteEventStore) FetchUnprocessed(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts_ms, event_type, tab_id, url, visit_id, activity_id, is_processed, resolution
		FROM events
		WHERE is_processed = 0
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkProcessed flips is_processed for the given event ids in a single
// statement and returns how many rows changed. A nil or empty id list is a
// no-op.
func (s *SQLiteEventStore) MarkProcessed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE events SET is_processed = 1 WHERE id IN ("+placeholders+")", args...,
	)
	if err != nil {
		return 0, fmt.Errorf("mark processed: %w", err)
	}
	return res.RowsAffected()
}

// Counts returns how many events are pending versus already processed.
func (s *SQLiteEventStore) Counts(ctx context.Context) (EventCounts, error) {
	var c EventCounts
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE is_processed = 0",
	).Scan(&c.Pending)
	if err != nil {
		return c, fmt.Errorf("count pending: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE is_processed = 1",
	).Scan(&c.Processed)
	if err != nil {
		return c, fmt.Errorf("count processed: %w", err)
	}
	return c, nil
}

// DeleteProcessedBefore removes processed events older than cutoff.
// Unprocessed events are never deleted by age: a pending timeline may still
// complete, and suppressing it silently would lose time.
func (s *SQLiteEventStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE is_processed = 1 AND ts_ms < ?",
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}
	return res.RowsAffected()
}

// CountProcessedBefore reports how many processed events fall before the
// cutoff, without deleting anything.
func (s *SQLiteEventStore) CountProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE is_processed = 1 AND ts_ms < ?",
		cutoff.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count prunable events: %w", err)
	}
	return n, nil
}

// Close releases prepared statements. The underlying *sql.DB is NOT closed;
// that is the caller's responsibility.
func (s *SQLiteEventStore) Close() error {
	if s.insertEvent != nil {
		s.insertEvent.Close()
	}
	return nil
}

// scanEvents reads event rows into a slice.
func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var activityID, resolution sql.NullString
		var eventType string
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &eventType, &e.TabID, &e.URL, &e.VisitID,
			&activityID, &e.IsProcessed, &resolution,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = EventType(eventType)
		if activityID.Valid {
			e.ActivityID = activityID.String
		}
		if resolution.Valid {
			e.Resolution = resolution.String
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice rather than nil
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// nullIfEmpty maps "" to NULL so empty markers don't masquerade as values.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// extractHostname pulls the hostname from a URL string.
func extractHostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
