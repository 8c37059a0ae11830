package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/dwell/internal/storage"
)

// Execute implements the go-flags Commander interface for ReportCommand.
func (c *ReportCommand) Execute(args []string) error {
	st, err := openStores(c.globals)
	if err != nil {
		return err
	}
	defer st.Close()

	return c.executeWithStores(st)
}

// executeWithStores runs the report against provided stores (for testing).
func (c *ReportCommand) executeWithStores(st *stores) error {
	group, err := reportGroup(c.By)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	q := storage.StatQuery{
		ParentDomain: c.Domain,
		Hostname:     c.Host,
		Limit:        c.Limit,
		Offset:       c.Offset,
	}
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		q.SinceDay = now.Add(-dur).Format("2006-01-02")
	}
	if c.Until != "" {
		dur, err := parseDuration(c.Until)
		if err != nil {
			return fmt.Errorf("invalid --until value %q: %w", c.Until, err)
		}
		q.UntilDay = now.Add(-dur).Format("2006-01-02")
	}

	rows, err := st.stats.TotalsBy(context.Background(), q, group)
	if err != nil {
		return fmt.Errorf("report failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return c.printJSON(rows)
	}
	return c.printHuman(rows)
}

// reportGroup maps the --by flag onto a stat grouping.
func reportGroup(by string) (storage.StatGroup, error) {
	switch strings.ToLower(by) {
	case "url":
		return storage.GroupByURL, nil
	case "host", "hostname":
		return storage.GroupByHostname, nil
	case "domain":
		return storage.GroupByParentDomain, nil
	case "day":
		return storage.GroupByDay, nil
	default:
		return "", fmt.Errorf("unknown --by value %q (use url, host, domain, or day)", by)
	}
}

func (c *ReportCommand) printHuman(rows []storage.GroupedStat) error {
	if len(rows) == 0 {
		fmt.Printf("No dwell time recorded (since %s)\n", c.Since)
		return nil
	}

	fmt.Printf("Dwell by %s (since %s)\n\n", c.By, c.Since)
	fmt.Printf("  %-44s %10s %10s\n", strings.ToUpper(c.By), "OPEN", "ACTIVE")
	for _, r := range rows {
		key := r.Key
		if len(key) > 44 {
			key = key[:41] + "..."
		}
		fmt.Printf("  %-44s %10s %10s\n", key, formatDwell(r.OpenMS), formatDwell(r.ActiveMS))
	}

	return nil
}

type reportRowJSON struct {
	Key      string `json:"key"`
	OpenMS   int64  `json:"open_ms"`
	ActiveMS int64  `json:"active_ms"`
	Rows     int64  `json:"rows"`
}

type reportJSON struct {
	By    string          `json:"by"`
	Since string          `json:"since,omitempty"`
	Until string          `json:"until,omitempty"`
	Count int             `json:"count"`
	Rows  []reportRowJSON `json:"rows"`
}

func (c *ReportCommand) printJSON(rows []storage.GroupedStat) error {
	out := reportJSON{
		By:    c.By,
		Since: c.Since,
		Until: c.Until,
		Count: len(rows),
		Rows:  make([]reportRowJSON, len(rows)),
	}

	for i, r := range rows {
		out.Rows[i] = reportRowJSON{Key: r.Key, OpenMS: r.OpenMS, ActiveMS: r.ActiveMS, Rows: r.Rows}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
