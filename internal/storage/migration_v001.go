package storage

import "database/sql"

// migrateV001 creates the initial dwell schema: all tables, indexes, and
// default exclusion rules. Every statement uses IF NOT EXISTS for
// idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms        INTEGER NOT NULL,
			event_type   TEXT NOT NULL CHECK (event_type IN (
				'open_time_start', 'open_time_end',
				'active_time_start', 'active_time_end',
				'checkpoint'
			)),
			tab_id       INTEGER NOT NULL DEFAULT 0,
			url          TEXT NOT NULL,
			visit_id     TEXT NOT NULL,
			activity_id  TEXT,
			is_processed INTEGER NOT NULL DEFAULT 0,
			resolution   TEXT,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS site_stats (
			key           TEXT PRIMARY KEY,
			day           TEXT NOT NULL,
			url           TEXT NOT NULL,
			hostname      TEXT NOT NULL DEFAULT '',
			parent_domain TEXT NOT NULL DEFAULT '',
			open_ms       INTEGER NOT NULL DEFAULT 0,
			active_ms     INTEGER NOT NULL DEFAULT 0,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(day, url)
		)`,

		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS exclusions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_type  TEXT NOT NULL CHECK (rule_type IN ('domain', 'regex')),
			rule_value TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			is_default BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(rule_type, rule_value)
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_events_processed    ON events(is_processed)`,
		`CREATE INDEX IF NOT EXISTS idx_events_visit        ON events(visit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts           ON events(ts_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_events_url          ON events(url)`,
		`CREATE INDEX IF NOT EXISTS idx_site_stats_day      ON site_stats(day)`,
		`CREATE INDEX IF NOT EXISTS idx_site_stats_domain   ON site_stats(parent_domain)`,
		`CREATE INDEX IF NOT EXISTS idx_site_stats_hostname ON site_stats(hostname)`,
		`CREATE INDEX IF NOT EXISTS idx_exclusions_rule     ON exclusions(rule_type, rule_value)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	// ── Default exclusion rules ────────────────────────────────
	if err := seedDefaultExclusions(tx); err != nil {
		return err
	}

	return nil
}

// seedDefaultExclusions inserts the curated denylist. Uses INSERT OR IGNORE
// so re-running is safe. Time spent on these sites is never recorded.
func seedDefaultExclusions(tx *sql.Tx) error {
	type rule struct {
		RuleType  string
		RuleValue string
		Reason    string
	}

	defaults := []rule{
		// Banking & Financial
		{"domain", "chase.com", "Banking - financial privacy"},
		{"domain", "bankofamerica.com", "Banking - financial privacy"},
		{"domain", "wellsfargo.com", "Banking - financial privacy"},
		{"domain", "citi.com", "Banking - financial privacy"},
		{"domain", "capitalone.com", "Banking - financial privacy"},
		{"domain", "usbank.com", "Banking - financial privacy"},
		{"domain", "schwab.com", "Banking - financial privacy"},
		{"domain", "fidelity.com", "Banking - financial privacy"},
		{"domain", "vanguard.com", "Banking - financial privacy"},
		{"domain", "paypal.com", "Payment - financial privacy"},
		{"domain", "venmo.com", "Payment - financial privacy"},
		// Password Managers
		{"domain", "1password.com", "Password manager - credential privacy"},
		{"domain", "bitwarden.com", "Password manager - credential privacy"},
		{"domain", "lastpass.com", "Password manager - credential privacy"},
		{"domain", "dashlane.com", "Password manager - credential privacy"},
		// Auth Providers
		{"domain", "accounts.google.com", "Auth provider - credential privacy"},
		{"domain", "login.microsoftonline.com", "Auth provider - credential privacy"},
		{"domain", "auth0.com", "Auth provider - credential privacy"},
		{"domain", "okta.com", "Auth provider - credential privacy"},
		// Healthcare
		{"domain", "mychart.com", "Healthcare - HIPAA privacy"},
		{"domain", "patient.myuhc.com", "Healthcare - HIPAA privacy"},
		// Tax / Government
		{"domain", "irs.gov", "Tax - financial privacy"},
		{"domain", "turbotax.intuit.com", "Tax - financial privacy"},
		// Adult content (regex)
		{"regex", `.*\.xxx$`, "Adult content exclusion"},
		{"regex", `.*pornhub\.com$`, "Adult content exclusion"},
	}

	const insertSQL = `INSERT OR IGNORE INTO exclusions (rule_type, rule_value, reason, is_default) VALUES (?, ?, ?, 1)`

	for _, r := range defaults {
		if _, err := tx.Exec(insertSQL, r.RuleType, r.RuleValue, r.Reason); err != nil {
			return err
		}
	}

	return nil
}
