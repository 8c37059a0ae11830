// Package lock provides the persisted mutual-exclusion token that
// serializes aggregation runs across overlapping timer ticks and process
// restarts.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/runnerr0/dwell/internal/storage"
)

// DefaultKey is the kv key guarding aggregation runs.
const DefaultKey = "aggregation.lock"

// record is the persisted lock shape: the acquisition time in epoch
// milliseconds.
type record struct {
	Timestamp int64 `json:"timestamp"`
}

// Lock is a TTL-guarded token stored in the kv table. Absence of the record
// or a record older than the TTL both mean "not held": a crashed run can
// never wedge the scheduler for longer than one TTL.
type Lock struct {
	kv  storage.KVStore
	key string
	ttl time.Duration

	now func() time.Time
}

// New creates a Lock on the given kv key.
func New(kv storage.KVStore, key string, ttl time.Duration) *Lock {
	return &Lock{
		kv:  kv,
		key: key,
		ttl: ttl,
		now: time.Now,
	}
}

// Acquire attempts to take the lock. It returns false without error when
// another holder's record is still fresh; that is contention, not failure.
// A stale or unreadable record is replaced.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	raw, ok, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return false, fmt.Errorf("read lock record: %w", err)
	}

	if ok {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("replacing unreadable lock record", "key", l.key, "error", err)
		} else if l.now().Sub(time.UnixMilli(rec.Timestamp)) <= l.ttl {
			return false, nil
		} else {
			slog.Info("taking over stale lock",
				"key", l.key,
				"held_since", time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339))
		}
	}

	data, err := json.Marshal(record{Timestamp: l.now().UnixMilli()})
	if err != nil {
		return false, fmt.Errorf("encode lock record: %w", err)
	}
	if err := l.kv.Set(ctx, l.key, string(data)); err != nil {
		return false, fmt.Errorf("write lock record: %w", err)
	}

	slog.Debug("lock acquired", "key", l.key, "ttl", l.ttl)
	return true, nil
}

// Release deletes the lock record unconditionally. Releasing a lock that is
// not held is a no-op; callers run Release on every exit path.
func (l *Lock) Release(ctx context.Context) error {
	if err := l.kv.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock record: %w", err)
	}
	slog.Debug("lock released", "key", l.key)
	return nil
}
