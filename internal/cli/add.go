package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/dwell/internal/site"
	"github.com/runnerr0/dwell/internal/storage"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for add command")
	}
	if c.Duration == "" {
		return fmt.Errorf("--duration is required for add command")
	}

	st, err := openStores(c.globals)
	if err != nil {
		return err
	}
	defer st.Close()

	return c.executeWithStores(st)
}

// executeWithStores records the manual interval against provided stores
// (for testing). The interval becomes a resolved open-time pair so the
// next aggregation pass folds it in like any captured visit.
func (c *AddCommand) executeWithStores(st *stores) error {
	info, err := site.Resolve(c.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %s", c.URL)
	}

	dur, err := parseDuration(c.Duration)
	if err != nil {
		return fmt.Errorf("invalid --duration value %q: %w", c.Duration, err)
	}
	if dur <= 0 {
		return fmt.Errorf("--duration must be positive, got %q", c.Duration)
	}

	end := time.Now().UTC()
	if c.At != "" {
		end, err = time.Parse(time.RFC3339, c.At)
		if err != nil {
			return fmt.Errorf("invalid --at value %q: %w", c.At, err)
		}
		end = end.UTC()
	}
	start := end.Add(-dur)

	// The store silently skips excluded domains; the CLI user gets an
	// explicit error instead.
	if st.events.IsExcluded(info.Hostname) {
		return fmt.Errorf("domain %q is excluded by exclusion rules", info.Hostname)
	}

	visitID := uuid.NewString()
	events := []storage.Event{
		{Timestamp: start.UnixMilli(), Type: storage.EventOpenStart, URL: c.URL, VisitID: visitID, Resolution: "manual"},
		{Timestamp: end.UnixMilli(), Type: storage.EventOpenEnd, URL: c.URL, VisitID: visitID, Resolution: "manual"},
	}
	if c.Active {
		activityID := uuid.NewString()
		events = append(events,
			storage.Event{Timestamp: start.UnixMilli(), Type: storage.EventActiveStart, URL: c.URL, VisitID: visitID, ActivityID: activityID, Resolution: "manual"},
			storage.Event{Timestamp: end.UnixMilli(), Type: storage.EventActiveEnd, URL: c.URL, VisitID: visitID, ActivityID: activityID, Resolution: "manual"},
		)
	}

	stored, err := st.events.AppendEvents(context.Background(), events)
	if err != nil {
		return fmt.Errorf("storing events: %w", err)
	}
	if stored == 0 {
		return fmt.Errorf("domain %q is excluded by exclusion rules", info.Hostname)
	}

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"url":      c.URL,
			"visit_id": visitID,
			"start":    start.Format(time.RFC3339),
			"end":      end.Format(time.RFC3339),
			"open_ms":  dur.Milliseconds(),
			"active":   c.Active,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	active := "no"
	if c.Active {
		active = "yes"
	}

	fmt.Printf("Recorded %s dwell on %s\n", formatDwell(dur.Milliseconds()), c.URL)
	fmt.Printf("  Visit:  %s\n", visitID)
	fmt.Printf("  Window: %s .. %s\n", start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  Active: %s\n", active)
	fmt.Println("The interval is pending until the next aggregation pass (dwell run).")

	return nil
}
