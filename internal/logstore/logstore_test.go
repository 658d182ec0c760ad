package logstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
)

// fakeLogDB is an in-memory core.LogStore.
type fakeLogDB struct {
	mu      sync.Mutex
	records []*core.LogRecord
	failing bool
}

func (f *fakeLogDB) InsertLog(_ context.Context, rec *core.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("disk full")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLogDB) QueryLogs(_ context.Context, limit int, module string, level core.LogLevel) ([]*core.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.LogRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := f.records[i]
		if module != "" && rec.Module != module {
			continue
		}
		if level != "" && rec.Level != level {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeLogDB) DeleteLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.records[:0]
	var deleted int64
	for _, rec := range f.records {
		if rec.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	f.records = kept
	return deleted, nil
}

func (f *fakeLogDB) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, db *fakeLogDB, cfg Config) *Store {
	t.Helper()
	return New(db, nil, testLogger(), cfg)
}

func TestLogWriteAndRecent(t *testing.T) {
	db := &fakeLogDB{}
	s := newTestStore(t, db, DefaultConfig())
	ctx := context.Background()

	s.Log(ctx, "ingest", core.LevelInfo, "started",
		WithWorkflow("wf-1", "s1"),
		WithDuration(12.5),
		WithStatus("ok"),
		WithContext(map[string]any{"batch": 7}))

	assert.Equal(t, 1, db.count())
	assert.Equal(t, int64(1), s.WrittenCount())

	recent := s.Recent(10, "", "")
	require.Len(t, recent, 1)
	rec := recent[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "ingest", rec.Module)
	assert.Equal(t, "wf-1", rec.WorkflowID)
	assert.Equal(t, "s1", rec.StepID)
	assert.InDelta(t, 12.5, rec.DurationMS, 0.001)
	assert.Equal(t, "ok", rec.Status)
}

func TestLogNeverFailsOnPersistError(t *testing.T) {
	db := &fakeLogDB{failing: true}
	s := newTestStore(t, db, DefaultConfig())

	// Must not panic or propagate the error.
	s.Log(context.Background(), "ingest", core.LevelError, "boom")

	assert.Equal(t, int64(1), s.PersistFailures())
	assert.Len(t, s.Recent(10, "", ""), 1, "record still lands in the ring")
	assert.True(t, s.Health().Degraded)
}

func TestLogInvalidLevelFallsBackToInfo(t *testing.T) {
	db := &fakeLogDB{}
	s := newTestStore(t, db, DefaultConfig())

	s.Log(context.Background(), "m", core.LogLevel("verbose"), "msg")

	recent := s.Recent(1, "", "")
	require.Len(t, recent, 1)
	assert.Equal(t, core.LevelInfo, recent[0].Level)
}

func TestRingEvictsOldestFirst(t *testing.T) {
	db := &fakeLogDB{}
	s := newTestStore(t, db, Config{RetentionDays: 1, RingSize: 3, SweepInterval: time.Hour})
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three", "four"} {
		s.Log(ctx, "m", core.LevelInfo, msg)
	}

	recent := s.Recent(10, "", "")
	require.Len(t, recent, 3)
	assert.Equal(t, "four", recent[0].Message, "newest first")
	assert.Equal(t, "two", recent[2].Message, "oldest entry evicted")

	// The durable store keeps everything until the sweep.
	assert.Equal(t, 4, db.count())
}

func TestRecentFilters(t *testing.T) {
	db := &fakeLogDB{}
	s := newTestStore(t, db, DefaultConfig())
	ctx := context.Background()

	s.Log(ctx, "ingest", core.LevelInfo, "a")
	s.Log(ctx, "ingest", core.LevelError, "b")
	s.Log(ctx, "output", core.LevelError, "c")

	assert.Len(t, s.Recent(10, "ingest", ""), 2)
	assert.Len(t, s.Recent(10, "", core.LevelError), 2)
	assert.Len(t, s.Recent(10, "ingest", core.LevelError), 1)
	assert.Len(t, s.Recent(10, "missing", ""), 0)
}

func TestCleanupPurgesOldRecords(t *testing.T) {
	db := &fakeLogDB{}
	s := newTestStore(t, db, Config{RetentionDays: 1, RingSize: 10, SweepInterval: time.Hour})
	ctx := context.Background()

	s.Log(ctx, "m", core.LevelInfo, "fresh")

	// Backdate a record past the retention window.
	old := &core.LogRecord{
		ID:        "old",
		Timestamp: time.Now().Add(-48 * time.Hour),
		Module:    "m",
		Level:     core.LevelInfo,
		Message:   "stale",
	}
	require.NoError(t, db.InsertLog(ctx, old))
	s.mu.Lock()
	s.ring = append([]*core.LogRecord{old}, s.ring...)
	s.mu.Unlock()

	require.NoError(t, s.Cleanup(ctx))

	assert.Equal(t, 1, db.count())
	recent := s.Recent(10, "", "")
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Message)

	st := s.ResetStatus()
	assert.Equal(t, "ok", st.Status)
	assert.False(t, st.LastResetTime.IsZero())

	// Idempotent: a second sweep with nothing to remove still succeeds.
	require.NoError(t, s.Cleanup(ctx))
	assert.Equal(t, 1, db.count())
}

func TestLogPublishesEvent(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeLogRecord)

	s := New(&fakeLogDB{}, bus, testLogger(), DefaultConfig())
	s.Log(context.Background(), "m", core.LevelInfo, "hello")

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeLogRecord, ev.EventType())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected log record event")
	}
}
