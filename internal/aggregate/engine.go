// Package aggregate implements the incremental aggregation engine that
// turns the raw tab lifecycle event log into per-URL, per-day open and
// active time totals.
//
// A run consumes every unprocessed event, reconstructs per-visit timelines
// from partial evidence, folds the elapsed time into accumulation rows, and
// only then marks the consumed events processed. Re-running after a failure
// re-derives the same deltas from the still-unprocessed events, so repeated
// runs never double-count.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/runnerr0/dwell/internal/site"
	"github.com/runnerr0/dwell/internal/storage"
)

// Result reports the outcome of one aggregation run. Run never panics; all
// failures surface here.
type Result struct {
	Success   bool
	Processed int
	Err       error
}

// Runner is the narrow surface the scheduler drives. *Engine is the
// production implementation.
type Runner interface {
	Run(ctx context.Context) Result
}

// Engine folds unprocessed events into accumulation rows.
type Engine struct {
	events storage.EventStore
	stats  storage.StatStore
}

// NewEngine creates an Engine over the given stores.
func NewEngine(events storage.EventStore, stats storage.StatStore) *Engine {
	return &Engine{events: events, stats: stats}
}

// Run executes one aggregation pass.
//
// The pass is all-or-nothing with respect to bad input: if any event in the
// batch carries a URL that cannot be resolved, nothing is written and
// nothing is marked processed, even for unrelated visits. Store failures
// likewise abort the run; whatever was not yet marked processed is simply
// retried on the next tick.
func (e *Engine) Run(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("aggregation panic: %v", r)}
		}
	}()

	events, err := e.events.FetchUnprocessed(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("fetch unprocessed events: %w", err)}
	}
	if len(events) == 0 {
		return Result{Success: true}
	}

	// Resolve every distinct URL before any write. One malformed URL aborts
	// the whole run so a retry sees the batch unchanged.
	sites := make(map[string]site.Site)
	for _, ev := range events {
		if _, ok := sites[ev.URL]; ok {
			continue
		}
		s, err := site.Resolve(ev.URL)
		if err != nil {
			return Result{Err: fmt.Errorf("event %d: %w", ev.ID, err)}
		}
		sites[ev.URL] = s
	}

	timelines := partitionTimelines(events)

	// Sum deltas client-side so each (day, url) key gets exactly one upsert
	// per run regardless of how many visits contributed to it.
	deltas := make(map[string]*storage.StatDelta)
	var processedIDs []int64
	pending := 0
	for i := range timelines {
		tl := &timelines[i]
		if !tl.complete() {
			pending++
			continue
		}

		day, url := tl.day(), tl.url()
		key := storage.StatKey(day, url)
		d, ok := deltas[key]
		if !ok {
			s := sites[url]
			d = &storage.StatDelta{
				Day:          day,
				URL:          url,
				Hostname:     s.Hostname,
				ParentDomain: s.ParentDomain,
			}
			deltas[key] = d
		}
		if tl.open() {
			d.OpenMS += tl.elapsedMS()
		} else {
			d.ActiveMS += tl.elapsedMS()
		}
		processedIDs = append(processedIDs, tl.eventIDs()...)
	}

	keys := make([]string, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// A key whose timelines summed to zero is still resolved: its events get
	// marked below, but no row is touched.
	written := 0
	for _, k := range keys {
		d := deltas[k]
		if d.OpenMS <= 0 && d.ActiveMS <= 0 {
			continue
		}
		if _, err := e.stats.UpsertAccumulation(ctx, *d); err != nil {
			return Result{Err: fmt.Errorf("upsert accumulation %s: %w", k, err)}
		}
		written++
	}

	// Mark only after every contribution is durably folded in.
	marked, err := e.events.MarkProcessed(ctx, processedIDs)
	if err != nil {
		return Result{Err: fmt.Errorf("mark processed: %w", err)}
	}

	slog.Debug("aggregation run complete",
		"events", len(events),
		"processed", marked,
		"keys_written", written,
		"pending_timelines", pending)

	return Result{Success: true, Processed: int(marked)}
}
