package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/schedule"
	"github.com/runnerr0/dwell/internal/storage"
)

// topDomainsWindow is the lookback for the status top-domains block.
const topDomainsWindow = 30 * 24 * time.Hour

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string              `json:"version"`
	DatabasePath      string              `json:"database_path"`
	DatabaseSizeBytes int64               `json:"database_size_bytes"`
	PendingEvents     int64               `json:"pending_events"`
	ProcessedEvents   int64               `json:"processed_events"`
	StatRows          int64               `json:"stat_rows"`
	OpenMS            int64               `json:"open_ms"`
	ActiveMS          int64               `json:"active_ms"`
	OldestDay         string              `json:"oldest_day,omitempty"`
	NewestDay         string              `json:"newest_day,omitempty"`
	TopDomains        []domainTotalJSON   `json:"top_domains"`
	LastRun           *schedule.RunRecord `json:"last_run,omitempty"`
	DaemonRunning     bool                `json:"daemon_running"`
}

type domainTotalJSON struct {
	Domain   string `json:"domain"`
	OpenMS   int64  `json:"open_ms"`
	ActiveMS int64  `json:"active_ms"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	st, err := openStores(c.globals)
	if err != nil {
		return err
	}
	defer st.Close()

	return c.executeWithStores(st)
}

// executeWithStores runs status against provided stores (for testing).
func (c *StatusCommand) executeWithStores(st *stores) error {
	ctx := context.Background()

	counts, err := st.events.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	totals, err := st.stats.Totals(ctx)
	if err != nil {
		return fmt.Errorf("stat totals: %w", err)
	}

	sinceDay := time.Now().UTC().Add(-topDomainsWindow).Format("2006-01-02")
	top, err := st.stats.TopByParentDomain(ctx, sinceDay, 5)
	if err != nil {
		return fmt.Errorf("top domains: %w", err)
	}

	lastRun, err := schedule.LastRun(ctx, st.kv)
	if err != nil {
		return fmt.Errorf("last run record: %w", err)
	}

	dbSize := getDatabaseSize(st.db, st.path)
	daemonRunning := checkDaemon(st.cfg)

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(counts, totals, top, lastRun, st.path, dbSize, daemonRunning)
	}
	return c.printStatusHuman(counts, totals, top, lastRun, st.path, dbSize, daemonRunning)
}

func (c *StatusCommand) printStatusHuman(counts storage.EventCounts, totals storage.StatTotals, top []storage.DomainTotal, lastRun *schedule.RunRecord, dbPath string, dbSize int64, daemonRunning bool) error {
	fmt.Println("Dwell Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(dbSize))
	fmt.Printf("Events:        %s pending / %s processed\n", formatNumber(counts.Pending), formatNumber(counts.Processed))

	if totals.Rows > 0 {
		fmt.Printf("Stats:         %s rows (%s .. %s)\n", formatNumber(totals.Rows), totals.OldestDay, totals.NewestDay)
		fmt.Printf("Tracked:       %s open / %s active\n", formatDwell(totals.OpenMS), formatDwell(totals.ActiveMS))
	} else {
		fmt.Println("Stats:         0 rows")
	}

	if lastRun != nil {
		outcome := "ok"
		if !lastRun.Success {
			outcome = "failed"
		}
		fmt.Printf("Last run:      %s (%s, %d events in %dms)\n",
			lastRun.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			outcome, lastRun.Processed, lastRun.DurationMS)
	} else {
		fmt.Println("Last run:      never")
	}

	if len(top) > 0 {
		fmt.Println()
		fmt.Println("Top Domains (30d):")
		for _, d := range top {
			fmt.Printf("  %-24s %s\n", d.ParentDomain, formatDwell(d.OpenMS))
		}
	}

	fmt.Println()
	if daemonRunning {
		fmt.Println("Daemon:        running")
	} else {
		fmt.Println("Daemon:        not running")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(counts storage.EventCounts, totals storage.StatTotals, top []storage.DomainTotal, lastRun *schedule.RunRecord, dbPath string, dbSize int64, daemonRunning bool) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: dbSize,
		PendingEvents:     counts.Pending,
		ProcessedEvents:   counts.Processed,
		StatRows:          totals.Rows,
		OpenMS:            totals.OpenMS,
		ActiveMS:          totals.ActiveMS,
		OldestDay:         totals.OldestDay,
		NewestDay:         totals.NewestDay,
		TopDomains:        make([]domainTotalJSON, len(top)),
		LastRun:           lastRun,
		DaemonRunning:     daemonRunning,
	}

	for i, d := range top {
		out.TopDomains[i] = domainTotalJSON{Domain: d.ParentDomain, OpenMS: d.OpenMS, ActiveMS: d.ActiveMS}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if dbPath != "" {
		if info, err := os.Stat(dbPath); err == nil {
			return info.Size()
		}
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// checkDaemon attempts an HTTP GET to the configured daemon health endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(cfg *config.Config) bool {
	client := &http.Client{Timeout: 1 * time.Second}
	addr := net.JoinHostPort(cfg.Daemon.Host, strconv.Itoa(cfg.Daemon.Port))
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
