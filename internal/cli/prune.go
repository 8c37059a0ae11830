package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	st, err := openStores(c.globals)
	if err != nil {
		return err
	}
	defer st.Close()

	return c.executeWithStores(st)
}

// executeWithStores applies the retention windows against provided stores
// (for testing). Only processed events are removed; pending events wait for
// the engine no matter how old they are.
func (c *PruneCommand) executeWithStores(st *stores) error {
	eventWindow := time.Duration(st.cfg.Retention.EventDays) * 24 * time.Hour
	if c.OlderThan != "" {
		dur, err := parseDuration(c.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
		}
		eventWindow = dur
	}
	statWindow := time.Duration(st.cfg.Retention.StatDays) * 24 * time.Hour

	ctx := context.Background()
	now := time.Now().UTC()
	eventCutoff := now.Add(-eventWindow)
	statCutoff := now.Add(-statWindow).Format("2006-01-02")

	// Count first so the prompt and the dry run report real numbers.
	events, err := st.events.CountProcessedBefore(ctx, eventCutoff)
	if err != nil {
		return fmt.Errorf("count prunable events: %w", err)
	}
	statRows, err := st.stats.CountOlderThan(ctx, statCutoff)
	if err != nil {
		return fmt.Errorf("count prunable stats: %w", err)
	}

	if c.DryRun {
		return c.printResult(events, statRows, eventWindow, true)
	}

	if events == 0 && statRows == 0 {
		if c.globals != nil && c.globals.JSON {
			return c.printResult(0, 0, eventWindow, false)
		}
		fmt.Println("No events to prune.")
		return nil
	}

	if !c.Force {
		fmt.Printf("About to remove %s processed events and %s stat rows. Proceed? [y/N] ",
			formatNumber(events), formatNumber(statRows))
		if !confirm(c.stdin, "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deletedEvents, err := st.events.DeleteProcessedBefore(ctx, eventCutoff)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	deletedStats, err := st.stats.DeleteOlderThan(ctx, statCutoff)
	if err != nil {
		return fmt.Errorf("prune stats: %w", err)
	}

	return c.printResult(deletedEvents, deletedStats, eventWindow, false)
}

func (c *PruneCommand) printResult(events, statRows int64, window time.Duration, dryRun bool) error {
	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"pruned_events": events,
			"pruned_stats":  statRows,
			"older_than":    formatDurationHuman(window),
			"dry_run":       dryRun,
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	if dryRun {
		fmt.Printf("[DRY RUN] Would remove %s processed events (older than %s) and %s stat rows.\n",
			formatNumber(events), formatDurationHuman(window), formatNumber(statRows))
		return nil
	}

	fmt.Printf("Pruned %s events (older than %s) and %s stat rows.\n",
		formatNumber(events), formatDurationHuman(window), formatNumber(statRows))
	return nil
}

// confirm reads one line from in (os.Stdin when nil) and reports whether it
// matches want case-insensitively.
func confirm(in io.Reader, want string) bool {
	if in == nil {
		in = os.Stdin
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), want)
}
