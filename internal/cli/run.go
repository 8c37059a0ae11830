package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/dwell/internal/aggregate"
	"github.com/runnerr0/dwell/internal/lock"
	"github.com/runnerr0/dwell/internal/retention"
	"github.com/runnerr0/dwell/internal/schedule"
)

// Execute implements the go-flags Commander interface for RunCommand.
func (c *RunCommand) Execute(args []string) error {
	st, err := openStores(c.globals)
	if err != nil {
		return err
	}
	defer st.Close()

	return c.executeWithStores(st)
}

// executeWithStores performs a single aggregation pass against provided
// stores (for testing). The pass goes through the scheduler so it carries
// the same lock, retention, and last-run bookkeeping as a timed tick.
func (c *RunCommand) executeWithStores(st *stores) error {
	timer := schedule.NewTickerTimer()
	defer timer.Close()

	opts := schedule.Options{
		Timer:  timer,
		Runner: aggregate.NewEngine(st.events, st.stats),
		Lock:   lock.New(st.kv, lock.DefaultKey, st.cfg.Aggregation.LockTTL()),
		KV:     st.kv,
		Period: st.cfg.Aggregation.Period(),
	}
	if !c.NoPrune {
		opts.Pruner = retention.NewPruner(st.events, st.stats, st.cfg.Retention.EventDays, st.cfg.Retention.StatDays)
	}

	started := time.Now()
	res, ran, err := schedule.NewScheduler(opts).RunNow(context.Background())
	if err != nil {
		return fmt.Errorf("aggregation pass: %w", err)
	}
	duration := time.Since(started)

	if c.globals != nil && c.globals.JSON {
		return c.printJSON(res, ran, duration)
	}
	return c.printHuman(res, ran, duration)
}

func (c *RunCommand) printHuman(res aggregate.Result, ran bool, duration time.Duration) error {
	if !ran {
		fmt.Println("Skipped: another process holds the aggregation lock.")
		return nil
	}
	if !res.Success {
		return fmt.Errorf("aggregation failed: %w", res.Err)
	}

	fmt.Printf("Processed %s events in %s\n", formatNumber(int64(res.Processed)), duration.Round(time.Millisecond))
	if c.NoPrune {
		fmt.Println("Retention sweep skipped (--no-prune).")
	}
	return nil
}

func (c *RunCommand) printJSON(res aggregate.Result, ran bool, duration time.Duration) error {
	if ran && !res.Success {
		return fmt.Errorf("aggregation failed: %w", res.Err)
	}

	out := map[string]interface{}{
		"ran":         ran,
		"processed":   res.Processed,
		"duration_ms": duration.Milliseconds(),
		"pruned":      !c.NoPrune,
	}
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(out)
}
