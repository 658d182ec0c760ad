// Package logstore implements the event log store: the append-only,
// queryable audit trail every other component writes into. Writes go
// through the durable store first (source of truth), then update a
// bounded in-memory ring that serves fast "recent" reads and live
// tailing.
package logstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/tasks"
)

// Config configures the log store.
type Config struct {
	RetentionDays int
	RingSize      int
	SweepInterval time.Duration
}

// DefaultConfig returns the default log store configuration.
func DefaultConfig() Config {
	return Config{
		RetentionDays: 1,
		RingSize:      1000,
		SweepInterval: time.Hour,
	}
}

// Store ingests leveled, contextual log records and serves recent-log
// queries. Logging must never block or fail the caller: persistence
// errors are reported to the process logger and swallowed.
type Store struct {
	cfg    Config
	db     core.LogStore
	bus    *events.EventBus
	logger *slog.Logger

	mu   sync.RWMutex
	ring []*core.LogRecord // newest last, bounded, evicts oldest-first

	sweep      *tasks.Loop
	sweepGroup singleflight.Group

	written         atomic.Int64
	persistFailures atomic.Int64
	lastReset       atomic.Int64 // unix nanos of last completed sweep
}

// New creates a log store. The sweep loop is created but not started;
// call Start to begin background retention.
func New(db core.LogStore, bus *events.EventBus, logger *slog.Logger, cfg Config) *Store {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 1
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	s := &Store{
		cfg:    cfg,
		db:     db,
		bus:    bus,
		logger: logger,
		ring:   make([]*core.LogRecord, 0, cfg.RingSize),
	}
	s.sweep = tasks.NewLoop("log_sweep", cfg.SweepInterval, s.Cleanup, logger)
	return s
}

// Start begins the background retention sweep.
func (s *Store) Start(ctx context.Context) {
	s.sweep.Start(ctx)
}

// Stop halts the background sweep.
func (s *Store) Stop() {
	s.sweep.Stop()
}

// Option customizes one log record.
type Option func(*core.LogRecord)

// WithWorkflow attaches workflow context to the record.
func WithWorkflow(workflowID core.WorkflowID, stepID core.StepID) Option {
	return func(r *core.LogRecord) {
		r.WorkflowID = string(workflowID)
		r.StepID = string(stepID)
	}
}

// WithDuration attaches an operation duration in milliseconds.
func WithDuration(ms float64) Option {
	return func(r *core.LogRecord) { r.DurationMS = ms }
}

// WithStatus attaches an operation status.
func WithStatus(status string) Option {
	return func(r *core.LogRecord) { r.Status = status }
}

// WithContext attaches a free-form context map. Values should be
// JSON-serializable scalars to keep the persisted format stable.
func WithContext(ctx map[string]any) Option {
	return func(r *core.LogRecord) { r.Context = ctx }
}

// WithMetadata attaches a free-form metadata map.
func WithMetadata(md map[string]any) Option {
	return func(r *core.LogRecord) { r.Metadata = md }
}

// Log records one event. It never returns an error: the audit trail is
// best-effort for its callers, and a persistence failure must not
// propagate into the business logic merely emitting a log line.
func (s *Store) Log(ctx context.Context, module string, level core.LogLevel, message string, opts ...Option) {
	if !core.ValidLevel(level) {
		level = core.LevelInfo
	}
	rec := &core.LogRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Module:    module,
		Level:     level,
		Message:   message,
	}
	for _, opt := range opts {
		opt(rec)
	}

	// Durable store first, ring second: the ring is a write-through
	// cache of the store, never a divergent copy.
	if err := s.db.InsertLog(ctx, rec); err != nil {
		s.persistFailures.Add(1)
		s.logger.Warn("log record not persisted",
			"module", module, "error", err)
	}

	s.mu.Lock()
	s.ring = append(s.ring, rec)
	if len(s.ring) > s.cfg.RingSize {
		s.ring = s.ring[len(s.ring)-s.cfg.RingSize:]
	}
	s.mu.Unlock()

	s.written.Add(1)
	s.mirror(rec)
	if s.bus != nil {
		s.bus.Publish(events.NewLogRecordEvent(rec))
	}
}

// mirror forwards the record to the process logger at the mapped level.
func (s *Store) mirror(rec *core.LogRecord) {
	attrs := []any{"module", rec.Module}
	if rec.WorkflowID != "" {
		attrs = append(attrs, "workflow_id", rec.WorkflowID)
	}
	switch rec.Level {
	case core.LevelDebug:
		s.logger.Debug(rec.Message, attrs...)
	case core.LevelWarning:
		s.logger.Warn(rec.Message, attrs...)
	case core.LevelError, core.LevelCritical:
		s.logger.Error(rec.Message, attrs...)
	default:
		s.logger.Info(rec.Message, attrs...)
	}
}

// Recent returns up to limit records from the in-memory ring, newest
// first, optionally filtered by module and level.
func (s *Store) Recent(limit int, module string, level core.LogLevel) []*core.LogRecord {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.LogRecord, 0, limit)
	for i := len(s.ring) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.ring[i]
		if module != "" && rec.Module != module {
			continue
		}
		if level != "" && rec.Level != level {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Query returns historical records from the durable store, newest first.
func (s *Store) Query(ctx context.Context, limit int, module string, level core.LogLevel) ([]*core.LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.db.QueryLogs(ctx, limit, module, level)
}

// Cleanup deletes records older than the retention window. It is
// idempotent, safe to run concurrently with writers, and single-flight:
// concurrent callers share one sweep.
func (s *Store) Cleanup(ctx context.Context) error {
	_, err, _ := s.sweepGroup.Do("sweep", func() (any, error) {
		cutoff := time.Now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)

		deleted, err := s.db.DeleteLogsBefore(ctx, cutoff)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		kept := s.ring[:0]
		for _, rec := range s.ring {
			if !rec.Timestamp.Before(cutoff) {
				kept = append(kept, rec)
			}
		}
		s.ring = kept
		s.mu.Unlock()

		s.lastReset.Store(time.Now().UnixNano())
		if deleted > 0 {
			s.logger.Info("log retention sweep", "deleted", deleted)
		}
		return deleted, nil
	})
	return err
}

// ResetStatus reports the last completed sweep.
type ResetStatus struct {
	LastResetTime time.Time `json:"last_reset_time"`
	Status        string    `json:"status"`
	RetentionDays int       `json:"retention_days"`
}

// ResetStatus returns when the retention sweep last completed.
func (s *Store) ResetStatus() ResetStatus {
	ns := s.lastReset.Load()
	status := "pending"
	var last time.Time
	if ns > 0 {
		last = time.Unix(0, ns)
		status = "ok"
	}
	return ResetStatus{
		LastResetTime: last,
		Status:        status,
		RetentionDays: s.cfg.RetentionDays,
	}
}

// WrittenCount returns the total number of records accepted since start.
// The fan-out loop uses the delta between pushes.
func (s *Store) WrittenCount() int64 {
	return s.written.Load()
}

// PersistFailures returns the number of records that could not be
// persisted. Sustained growth degrades the component health.
func (s *Store) PersistFailures() int64 {
	return s.persistFailures.Load()
}

// Health reports the sweep status plus persistence failure count.
type Health struct {
	Sweep           tasks.Status `json:"sweep"`
	PersistFailures int64        `json:"persist_failures"`
	Degraded        bool         `json:"degraded"`
}

// Health returns the component health for the dashboard.
func (s *Store) Health() Health {
	st := s.sweep.Status()
	return Health{
		Sweep:           st,
		PersistFailures: s.persistFailures.Load(),
		Degraded:        !st.Healthy || s.persistFailures.Load() > 0,
	}
}
