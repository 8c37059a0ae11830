package aggregate

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/storage"
)

// noon UTC keeps offsets well inside one calendar day unless a test crosses
// midnight on purpose.
var base = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC).UnixMilli()

const baseDay = "2026-08-25"

func newTestEngine(t *testing.T) (*Engine, *storage.SQLiteEventStore, *storage.SQLiteStatStore) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := storage.NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	events, err := storage.NewSQLiteEventStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	stats, err := storage.NewSQLiteStatStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { stats.Close() })

	return NewEngine(events, stats), events, stats
}

func ev(ts int64, typ storage.EventType, url, visitID, activityID string) storage.Event {
	return storage.Event{
		Timestamp:  ts,
		Type:       typ,
		TabID:      1,
		URL:        url,
		VisitID:    visitID,
		ActivityID: activityID,
	}
}

func seed(t *testing.T, store *storage.SQLiteEventStore, events ...storage.Event) {
	t.Helper()
	_, err := store.AppendEvents(context.Background(), events)
	require.NoError(t, err)
}

// --- Basic runs ---

func TestRun_EmptyLog(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	res := engine.Run(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Processed)
}

func TestRun_SimpleOpenInterval(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+5000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, baseDay, rows[0].Day)
	assert.Equal(t, "https://example.com/a", rows[0].URL)
	assert.Equal(t, int64(5000), rows[0].OpenMS)
	assert.Equal(t, int64(0), rows[0].ActiveMS)

	counts, err := events.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Pending)
}

func TestRun_Idempotent(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+5000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
	)

	first := engine.Run(ctx)
	require.NoError(t, first.Err)
	assert.Equal(t, 2, first.Processed)

	second := engine.Run(ctx)
	require.NoError(t, second.Err)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.Processed, "second run with no new events processes nothing")

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5000), rows[0].OpenMS, "second run must not change totals")
}

func TestRun_Conservation(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	// Inserted out of order; the engine's sort reconstructs the timeline and
	// the summed gaps telescope to last minus first.
	seed(t, events,
		ev(base+10000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+7000, storage.EventCheckpoint, "https://example.com/a", "v1", ""),
		ev(base+3000, storage.EventCheckpoint, "https://example.com/a", "v1", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10000), rows[0].OpenMS, "sum of gaps equals span of the timeline")
}

// --- Partial evidence and orphans ---

func TestRun_PartialEvidence(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	// Crash before the end event: start plus two checkpoints still yields
	// the covered span.
	seed(t, events,
		ev(base+1000, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+3000, storage.EventCheckpoint, "https://example.com/a", "v1", ""),
		ev(base+5000, storage.EventCheckpoint, "https://example.com/a", "v1", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Processed, "all three events resolved")

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4000), rows[0].OpenMS)
}

func TestRun_OrphanSuppression(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventCheckpoint, "https://example.com/a", "v1", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	assert.Empty(t, rows, "a lone checkpoint cannot form an interval")

	counts, err := events.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Pending, "orphan waits for a counterpart")
}

func TestRun_OrphanCompletesOnLaterRun(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventCheckpoint, "https://example.com/a", "v1", ""),
	)
	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Processed)

	// The counterpart arrives after the first run.
	seed(t, events,
		ev(base+2000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
	)
	res = engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2000), rows[0].OpenMS, "counted exactly once across runs")
}

func TestRun_MixedCompleteAndPending(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://done.example.com/", "v1", ""),
		ev(base+1000, storage.EventOpenEnd, "https://done.example.com/", "v1", ""),
		ev(base, storage.EventOpenStart, "https://waiting.example.com/", "v2", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://done.example.com/", rows[0].URL)

	counts, err := events.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Pending)
}

// --- Open vs active timelines ---

func TestRun_OpenAndActiveAreIndependent(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	// One visit: the page was open 10s, with a 3s interaction burst inside.
	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+10000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
		ev(base+2000, storage.EventActiveStart, "https://example.com/a", "v1", "act-1"),
		ev(base+5000, storage.EventActiveEnd, "https://example.com/a", "v1", "act-1"),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10000), rows[0].OpenMS)
	assert.Equal(t, int64(3000), rows[0].ActiveMS)
}

func TestRun_MultipleActivityBursts(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventActiveStart, "https://example.com/a", "v1", "act-1"),
		ev(base+2000, storage.EventActiveEnd, "https://example.com/a", "v1", "act-1"),
		ev(base+6000, storage.EventActiveStart, "https://example.com/a", "v1", "act-2"),
		ev(base+7500, storage.EventActiveEnd, "https://example.com/a", "v1", "act-2"),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3500), rows[0].ActiveMS, "bursts sum, the idle gap between them does not count")
	assert.Equal(t, int64(0), rows[0].OpenMS)
}

func TestRun_IncompleteActivityDoesNotBlockOpenTime(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+8000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
		ev(base+1000, storage.EventActiveStart, "https://example.com/a", "v1", "act-1"),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Processed, "open timeline resolves; lone active start waits")

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(8000), rows[0].OpenMS)
	assert.Equal(t, int64(0), rows[0].ActiveMS)

	counts, err := events.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Pending)
}

// --- All-or-nothing on malformed input ---

func TestRun_AllOrNothingOnMalformedURL(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://valid.example.com/", "v1", ""),
		ev(base+4000, storage.EventOpenEnd, "https://valid.example.com/", "v1", ""),
		ev(base, storage.EventOpenStart, "not a url at all", "v2", ""),
		ev(base+1000, storage.EventOpenEnd, "not a url at all", "v2", ""),
	)

	res := engine.Run(ctx)
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	assert.Equal(t, 0, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	assert.Empty(t, rows, "no accumulation for any visit, valid ones included")

	counts, err := events.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts.Pending, "nothing marked processed")
}

// --- Domain aggregation ---

func TestRun_DomainAggregation(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://sub.example.com/a", "v1", ""),
		ev(base+1000, storage.EventOpenEnd, "https://sub.example.com/a", "v1", ""),
		ev(base, storage.EventOpenStart, "https://example.com/b", "v2", ""),
		ev(base+2000, storage.EventOpenEnd, "https://example.com/b", "v2", ""),
		ev(base, storage.EventOpenStart, "https://example.co.uk/a", "v3", ""),
		ev(base+3000, storage.EventOpenEnd, "https://example.co.uk/a", "v3", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byURL := make(map[string]storage.SiteStat)
	for _, r := range rows {
		byURL[r.URL] = r
	}
	assert.Equal(t, "example.com", byURL["https://sub.example.com/a"].ParentDomain)
	assert.Equal(t, "sub.example.com", byURL["https://sub.example.com/a"].Hostname)
	assert.Equal(t, "example.com", byURL["https://example.com/b"].ParentDomain)
	assert.Equal(t, "example.co.uk", byURL["https://example.co.uk/a"].ParentDomain,
		"multi-label public suffix aggregates under itself")
}

// --- Upsert batching per key ---

// countingStatStore records how often each key is upserted in a run.
type countingStatStore struct {
	storage.StatStore
	upserts map[string]int
}

func (c *countingStatStore) UpsertAccumulation(ctx context.Context, delta storage.StatDelta) (string, error) {
	key, err := c.StatStore.UpsertAccumulation(ctx, delta)
	if err == nil {
		c.upserts[key]++
	}
	return key, err
}

func TestRun_OneUpsertPerKey(t *testing.T) {
	_, events, stats := newTestEngine(t)
	ctx := context.Background()

	counting := &countingStatStore{StatStore: stats, upserts: make(map[string]int)}
	engine := NewEngine(events, counting)

	// Two visits plus an activity burst, all on the same (day, url) key.
	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+1000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
		ev(base+60000, storage.EventOpenStart, "https://example.com/a", "v2", ""),
		ev(base+63000, storage.EventOpenEnd, "https://example.com/a", "v2", ""),
		ev(base+60500, storage.EventActiveStart, "https://example.com/a", "v2", "act-1"),
		ev(base+61500, storage.EventActiveEnd, "https://example.com/a", "v2", "act-1"),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)

	key := storage.StatKey(baseDay, "https://example.com/a")
	assert.Equal(t, map[string]int{key: 1}, counting.upserts,
		"deltas are summed client-side into one upsert per key")

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4000), rows[0].OpenMS)
	assert.Equal(t, int64(1000), rows[0].ActiveMS)
}

// --- Zero-delta resolution ---

func TestRun_ZeroDeltaStillResolves(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	// Both events on the same millisecond: the interval exists but its
	// length is zero. It is resolved without a write so it is never retried.
	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	assert.Empty(t, rows, "zero deltas never create rows")

	counts, err := events.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Pending)
}

// --- Day attribution ---

func TestRun_MidnightSpanAttributedToFirstDay(t *testing.T) {
	engine, events, stats := newTestEngine(t)
	ctx := context.Background()

	start := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC).UnixMilli()
	end := time.Date(2026, 8, 25, 0, 10, 0, 0, time.UTC).UnixMilli()

	seed(t, events,
		ev(start, storage.EventOpenStart, "https://example.com/late", "v1", ""),
		ev(end, storage.EventOpenEnd, "https://example.com/late", "v1", ""),
	)

	res := engine.Run(ctx)
	require.NoError(t, res.Err)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-08-24", rows[0].Day, "whole span goes to the earliest event's UTC day")
	assert.Equal(t, int64(11*60*1000), rows[0].OpenMS)
}

// --- Store failures ---

// failingStatStore fails every upsert.
type failingStatStore struct {
	storage.StatStore
}

func (f *failingStatStore) UpsertAccumulation(ctx context.Context, delta storage.StatDelta) (string, error) {
	return "", errors.New("disk full")
}

func TestRun_UpsertFailureLeavesEventsPending(t *testing.T) {
	_, events, stats := newTestEngine(t)
	ctx := context.Background()

	engine := NewEngine(events, &failingStatStore{StatStore: stats})

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+1000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
	)

	res := engine.Run(ctx)
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "disk full")

	counts, err := events.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Pending, "failed run retries the same batch next tick")
}

func TestRun_RetryAfterFailureCountsOnce(t *testing.T) {
	_, events, stats := newTestEngine(t)
	ctx := context.Background()

	seed(t, events,
		ev(base, storage.EventOpenStart, "https://example.com/a", "v1", ""),
		ev(base+5000, storage.EventOpenEnd, "https://example.com/a", "v1", ""),
	)

	// First attempt fails before anything is committed.
	failing := NewEngine(events, &failingStatStore{StatStore: stats})
	res := failing.Run(ctx)
	require.False(t, res.Success)

	// Retry with a healthy store re-derives the same delta.
	healthy := NewEngine(events, stats)
	res = healthy.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Processed)

	rows, err := stats.QueryDaily(ctx, storage.StatQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5000), rows[0].OpenMS, "retry counts the interval exactly once")
}
