// Package retention removes aged rows once they can no longer change what
// the stats tables say: processed events past the event window and
// accumulation rows past the stat window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runnerr0/dwell/internal/metrics"
	"github.com/runnerr0/dwell/internal/storage"
)

// Result summarizes one pruning pass.
type Result struct {
	EventsDeleted int64
	StatsDeleted  int64
}

// Pruner deletes expired rows. A window of zero or less disables that
// window's pruning entirely.
type Pruner struct {
	events    storage.EventStore
	stats     storage.StatStore
	eventDays int
	statDays  int

	now func() time.Time
}

// NewPruner creates a Pruner with the given retention windows in days.
func NewPruner(events storage.EventStore, stats storage.StatStore, eventDays, statDays int) *Pruner {
	return &Pruner{
		events:    events,
		stats:     stats,
		eventDays: eventDays,
		statDays:  statDays,
		now:       time.Now,
	}
}

// Run performs one pruning pass. Only processed events are ever deleted;
// pending events stay until the engine resolves them, however old they are.
func (p *Pruner) Run(ctx context.Context) (Result, error) {
	var res Result
	now := p.now()

	if p.eventDays > 0 {
		cutoff := now.AddDate(0, 0, -p.eventDays)
		n, err := p.events.DeleteProcessedBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("prune events: %w", err)
		}
		res.EventsDeleted = n
		metrics.RowsPruned.WithLabelValues("events").Add(float64(n))
	}

	if p.statDays > 0 {
		day := now.UTC().AddDate(0, 0, -p.statDays).Format("2006-01-02")
		n, err := p.stats.DeleteOlderThan(ctx, day)
		if err != nil {
			return res, fmt.Errorf("prune stats: %w", err)
		}
		res.StatsDeleted = n
		metrics.RowsPruned.WithLabelValues("site_stats").Add(float64(n))
	}

	if res.EventsDeleted > 0 || res.StatsDeleted > 0 {
		slog.Info("retention prune complete",
			"events_deleted", res.EventsDeleted,
			"stats_deleted", res.StatsDeleted)
	} else {
		slog.Debug("retention prune complete, nothing expired")
	}

	return res, nil
}
