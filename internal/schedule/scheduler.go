package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/runnerr0/dwell/internal/aggregate"
	"github.com/runnerr0/dwell/internal/lock"
	"github.com/runnerr0/dwell/internal/metrics"
	"github.com/runnerr0/dwell/internal/retention"
	"github.com/runnerr0/dwell/internal/storage"
)

// TimerName is the well-known name of the periodic aggregation timer. Ticks
// carrying any other name are ignored.
const TimerName = "dwell.aggregation"

// PeriodOverrideKey is the kv key that overrides the configured aggregation
// period at runtime, in minutes.
const PeriodOverrideKey = "aggregation.period_minutes"

// LastRunKey is the kv key holding a JSON record of the most recent
// aggregation pass.
const LastRunKey = "aggregation.last_run"

// RunRecord is the persisted outcome of the most recent aggregation pass,
// read back by status surfaces.
type RunRecord struct {
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Processed  int       `json:"processed"`
	DurationMS int64     `json:"duration_ms"`
}

// LastRun reads the most recent run record. Nil without error means no pass
// has completed yet.
func LastRun(ctx context.Context, kv storage.KVStore) (*RunRecord, error) {
	raw, ok, err := kv.Get(ctx, LastRunKey)
	if err != nil {
		return nil, fmt.Errorf("read last run record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec RunRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode last run record: %w", err)
	}
	return &rec, nil
}

// Pruner runs retention cleanup after a successful aggregation pass.
type Pruner interface {
	Run(ctx context.Context) (retention.Result, error)
}

// Options configures a Scheduler.
type Options struct {
	Timer  Timer
	Runner aggregate.Runner
	Pruner Pruner // optional
	Lock   *lock.Lock
	KV     storage.KVStore
	Period time.Duration // default tick period, overridable via PeriodOverrideKey
}

// Scheduler registers the aggregation timer and reacts to its ticks: take
// the lock, run the engine, prune, release. Contention is a normal skip,
// never an error.
type Scheduler struct {
	timer  Timer
	runner aggregate.Runner
	pruner Pruner
	lock   *lock.Lock
	kv     storage.KVStore
	period time.Duration

	mu         sync.Mutex
	running    bool
	removeTick func()
	ctx        context.Context
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(opts Options) *Scheduler {
	return &Scheduler{
		timer:  opts.Timer,
		runner: opts.Runner,
		pruner: opts.Pruner,
		lock:   opts.Lock,
		kv:     opts.KV,
		period: opts.Period,
	}
}

// Start resolves the tick period and registers the timer and tick handler.
// Calling Start while already running is a no-op: neither a second timer
// nor a second handler is registered. The given context bounds every
// scheduled run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Debug("scheduler already running")
		return nil
	}

	period, err := s.resolvePeriod(ctx)
	if err != nil {
		return err
	}

	s.ctx = ctx
	s.timer.Schedule(TimerName, period)
	s.removeTick = s.timer.OnTick(s.handleTick)
	s.running = true

	slog.Info("aggregation scheduler started", "period", period)
	return nil
}

// Stop cancels the timer and deregisters the tick handler, reporting
// whether a timer was actually cleared. Stopping a scheduler that never
// started is a safe no-op.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	s.removeTick()
	s.removeTick = nil
	s.running = false
	cleared := s.timer.Cancel(TimerName)

	slog.Info("aggregation scheduler stopped", "timer_cleared", cleared)
	return cleared
}

// Reset restarts the scheduler so a changed period override takes effect.
func (s *Scheduler) Reset(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// RunNow attempts one locked aggregation-and-prune pass immediately. The
// boolean reports whether the pass ran; false with a nil error means the
// lock was held by another run.
func (s *Scheduler) RunNow(ctx context.Context) (aggregate.Result, bool, error) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return aggregate.Result{}, false, fmt.Errorf("acquire aggregation lock: %w", err)
	}
	if !acquired {
		slog.Info("aggregation lock held elsewhere, skipping run")
		metrics.LockContention.Inc()
		return aggregate.Result{}, false, nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			slog.Error("release aggregation lock", "error", err)
		}
	}()

	started := time.Now()
	res := s.runner.Run(ctx)

	if res.Success {
		metrics.AggregationRuns.WithLabelValues("success").Inc()
		metrics.EventsProcessed.Add(float64(res.Processed))
		if s.pruner != nil {
			if _, err := s.pruner.Run(ctx); err != nil {
				slog.Error("retention prune failed", "error", err)
			}
		}
	} else {
		metrics.AggregationRuns.WithLabelValues("failure").Inc()
		slog.Error("aggregation run failed", "error", res.Err)
	}

	duration := time.Since(started)
	metrics.AggregationDuration.Observe(duration.Seconds())
	s.recordRun(ctx, res, duration)
	slog.Info("aggregation pass finished",
		"success", res.Success,
		"processed", res.Processed,
		"duration", duration)

	return res, true, nil
}

// recordRun persists the pass outcome under LastRunKey. A failure to record
// never fails the pass itself.
func (s *Scheduler) recordRun(ctx context.Context, res aggregate.Result, d time.Duration) {
	raw, err := json.Marshal(RunRecord{
		FinishedAt: time.Now().UTC(),
		Success:    res.Success,
		Processed:  res.Processed,
		DurationMS: d.Milliseconds(),
	})
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, LastRunKey, string(raw)); err != nil {
		slog.Warn("record aggregation run", "error", err)
	}
}

// handleTick is the registered tick handler. It filters on the timer name
// and never lets a failure escape into the timer goroutine.
func (s *Scheduler) handleTick(name string) {
	if name != TimerName {
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	if _, _, err := s.RunNow(ctx); err != nil {
		slog.Error("scheduled aggregation pass failed", "error", err)
	}
}

// resolvePeriod returns the kv override when one is set and valid, the
// configured default otherwise. A kv read failure is a real error: starting
// with a silently wrong period would be worse than failing loudly.
func (s *Scheduler) resolvePeriod(ctx context.Context) (time.Duration, error) {
	raw, ok, err := s.kv.Get(ctx, PeriodOverrideKey)
	if err != nil {
		return 0, fmt.Errorf("read period override: %w", err)
	}
	if !ok {
		return s.period, nil
	}

	minutes, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || minutes <= 0 {
		slog.Warn("ignoring invalid period override", "value", raw)
		return s.period, nil
	}
	return time.Duration(minutes) * time.Minute, nil
}
