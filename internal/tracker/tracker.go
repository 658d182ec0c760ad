// Package tracker implements the workflow tracker: it represents and
// exposes progress of long-running, multi-step operations started
// elsewhere in the platform. Tracker failures must never affect the task
// being tracked, so unknown ids surface as false/nil and persistence
// errors are swallowed after logging.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/logstore"
)

const module = "workflow_tracker"

// Config bounds the tracker's in-memory working sets.
type Config struct {
	MaxActive  int
	MaxHistory int
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{MaxActive: 200, MaxHistory: 100}
}

// Tracker drives the workflow and step state machines and keeps the
// active set plus a bounded history of terminal workflows.
type Tracker struct {
	cfg    Config
	db     core.WorkflowStore
	logs   *logstore.Store
	bus    *events.EventBus
	logger *slog.Logger

	mu      sync.RWMutex
	active  map[core.WorkflowID]*core.Workflow
	order   []core.WorkflowID // active set insertion order, for eviction
	history []*core.Workflow  // newest last, bounded

	persistFailures atomic.Int64
}

// New creates a workflow tracker.
func New(db core.WorkflowStore, logs *logstore.Store, bus *events.EventBus, logger *slog.Logger, cfg Config) *Tracker {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 200
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	return &Tracker{
		cfg:    cfg,
		db:     db,
		logs:   logs,
		bus:    bus,
		logger: logger,
		active: make(map[core.WorkflowID]*core.Workflow),
	}
}

// Create registers a new workflow in pending state and returns its id.
func (t *Tracker) Create(ctx context.Context, wfType string, metadata map[string]any) core.WorkflowID {
	id := core.WorkflowID(uuid.NewString())
	wf := core.NewWorkflow(id, wfType, metadata)

	var evictedSnapshot *core.Workflow
	t.mu.Lock()
	// Bounded active set: the oldest workflow is cancelled and moved to
	// history when full, so history never holds a non-terminal status.
	if len(t.active) >= t.cfg.MaxActive && len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		if evicted, ok := t.active[oldest]; ok {
			delete(t.active, oldest)
			if !evicted.IsTerminal() {
				_ = evicted.Cancel("evicted: active workflow limit reached")
			}
			t.appendHistoryLocked(evicted)
			evictedSnapshot = evicted.Clone()
		}
	}
	t.active[id] = wf
	t.order = append(t.order, id)
	snapshot := wf.Clone()
	t.mu.Unlock()

	if evictedSnapshot != nil {
		t.persist(ctx, evictedSnapshot)
		t.audit(ctx, evictedSnapshot, core.LevelWarning, "workflow evicted")
		t.publish(evictedSnapshot)
	}

	t.persist(ctx, snapshot)
	t.audit(ctx, snapshot, core.LevelInfo, "workflow created")
	t.publish(snapshot)
	return id
}

// Start transitions a workflow from pending to running. Returns false
// for an unknown id or an invalid transition.
func (t *Tracker) Start(ctx context.Context, id core.WorkflowID) bool {
	snapshot, ok := t.mutate(id, func(wf *core.Workflow) error {
		return wf.Start()
	})
	if !ok {
		return false
	}
	t.persist(ctx, snapshot)
	t.audit(ctx, snapshot, core.LevelInfo, "workflow started")
	t.publish(snapshot)
	return true
}

// AddStep appends a pending step and returns its id, or "" when the
// workflow is unknown or terminal. No other workflow's counters are
// touched.
func (t *Tracker) AddStep(ctx context.Context, id core.WorkflowID, name, stepModule string, metadata map[string]any) core.StepID {
	stepID := core.StepID(uuid.NewString())
	step := core.NewStep(stepID, name, stepModule, metadata)

	snapshot, ok := t.mutate(id, func(wf *core.Workflow) error {
		if err := wf.AddStep(step); err != nil {
			return err
		}
		wf.Recompute()
		return nil
	})
	if !ok {
		return ""
	}
	t.persist(ctx, snapshot)
	t.audit(ctx, snapshot, core.LevelDebug, "step added",
		logstore.WithWorkflow(id, stepID))
	t.publish(snapshot)
	return stepID
}

// StartStep transitions a step from pending to running.
func (t *Tracker) StartStep(ctx context.Context, id core.WorkflowID, stepID core.StepID) bool {
	return t.stepTransition(ctx, id, stepID, core.LevelInfo, "step started",
		func(step *core.WorkflowStep) error {
			return step.MarkRunning()
		})
}

// CompleteStep marks a step completed and recomputes the workflow's
// aggregate status.
func (t *Tracker) CompleteStep(ctx context.Context, id core.WorkflowID, stepID core.StepID, durationMS float64, logs []string) bool {
	return t.stepTransition(ctx, id, stepID, core.LevelInfo, "step completed",
		func(step *core.WorkflowStep) error {
			return step.MarkCompleted(durationMS, logs)
		})
}

// FailStep marks a step failed. One failed step makes the owning
// workflow Failed, even if later steps still run.
func (t *Tracker) FailStep(ctx context.Context, id core.WorkflowID, stepID core.StepID, errMsg string, logs []string) bool {
	return t.stepTransition(ctx, id, stepID, core.LevelError, "step failed",
		func(step *core.WorkflowStep) error {
			return step.MarkFailed(errMsg, logs)
		})
}

// SkipStep marks a pending step skipped.
func (t *Tracker) SkipStep(ctx context.Context, id core.WorkflowID, stepID core.StepID, reason string) bool {
	return t.stepTransition(ctx, id, stepID, core.LevelInfo, "step skipped",
		func(step *core.WorkflowStep) error {
			return step.MarkSkipped(reason)
		})
}

func (t *Tracker) stepTransition(ctx context.Context, id core.WorkflowID, stepID core.StepID, level core.LogLevel, msg string, fn func(*core.WorkflowStep) error) bool {
	var step *core.WorkflowStep
	snapshot, ok := t.mutate(id, func(wf *core.Workflow) error {
		s, found := wf.Step(stepID)
		if !found {
			return core.ErrNotFound("STEP_NOT_FOUND", "unknown step id")
		}
		if err := fn(s); err != nil {
			return err
		}
		step = s
		wf.Recompute()
		return nil
	})
	if !ok {
		return false
	}

	t.persist(ctx, snapshot)
	t.audit(ctx, snapshot, level, msg,
		logstore.WithWorkflow(id, stepID),
		logstore.WithStatus(string(step.Status)),
		logstore.WithDuration(step.DurationMS))
	if s, found := snapshot.Step(stepID); found && t.bus != nil {
		t.bus.Publish(events.NewStepUpdatedEvent(id, s))
	}
	t.publish(snapshot)
	return true
}

// Complete explicitly transitions a workflow to completed.
func (t *Tracker) Complete(ctx context.Context, id core.WorkflowID) bool {
	snapshot, ok := t.mutate(id, func(wf *core.Workflow) error {
		if err := wf.Complete(); err != nil {
			return err
		}
		wf.Recompute()
		return nil
	})
	if !ok {
		return false
	}
	t.persist(ctx, snapshot)
	t.audit(ctx, snapshot, core.LevelInfo, "workflow completed",
		logstore.WithDuration(snapshot.TotalDurationMS))
	t.publish(snapshot)
	return true
}

// Fail explicitly transitions a workflow to failed.
func (t *Tracker) Fail(ctx context.Context, id core.WorkflowID, errMsg string) bool {
	snapshot, ok := t.mutate(id, func(wf *core.Workflow) error {
		if err := wf.Fail(errMsg); err != nil {
			return err
		}
		wf.Recompute()
		return nil
	})
	if !ok {
		return false
	}
	t.persist(ctx, snapshot)
	t.audit(ctx, snapshot, core.LevelError, "workflow failed",
		logstore.WithStatus(errMsg))
	t.publish(snapshot)
	return true
}

// Cancel transitions a workflow to cancelled.
func (t *Tracker) Cancel(ctx context.Context, id core.WorkflowID, reason string) bool {
	snapshot, ok := t.mutate(id, func(wf *core.Workflow) error {
		if err := wf.Cancel(reason); err != nil {
			return err
		}
		wf.Recompute()
		return nil
	})
	if !ok {
		return false
	}
	t.persist(ctx, snapshot)
	t.audit(ctx, snapshot, core.LevelWarning, "workflow cancelled")
	t.publish(snapshot)
	return true
}

// mutate applies fn to the named workflow under the lock, moves terminal
// workflows to history, and returns a deep snapshot for persistence and
// publication outside the lock. The lock is never held across durable
// I/O.
func (t *Tracker) mutate(id core.WorkflowID, fn func(*core.Workflow) error) (*core.Workflow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wf, ok := t.active[id]
	if !ok {
		return nil, false
	}
	if err := fn(wf); err != nil {
		t.logger.Debug("workflow transition rejected",
			"workflow_id", string(id), "error", err)
		return nil, false
	}
	if wf.IsTerminal() {
		delete(t.active, id)
		for i, oid := range t.order {
			if oid == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		t.appendHistoryLocked(wf)
	}
	return wf.Clone(), true
}

func (t *Tracker) appendHistoryLocked(wf *core.Workflow) {
	t.history = append(t.history, wf)
	if len(t.history) > t.cfg.MaxHistory {
		t.history = t.history[len(t.history)-t.cfg.MaxHistory:]
	}
}

func (t *Tracker) persist(ctx context.Context, wf *core.Workflow) {
	if err := t.db.SaveWorkflow(ctx, wf); err != nil {
		t.persistFailures.Add(1)
		t.logger.Warn("workflow not persisted",
			"workflow_id", string(wf.ID), "error", err)
	}
}

func (t *Tracker) audit(ctx context.Context, wf *core.Workflow, level core.LogLevel, msg string, opts ...logstore.Option) {
	if t.logs == nil {
		return
	}
	opts = append([]logstore.Option{
		logstore.WithWorkflow(wf.ID, ""),
		logstore.WithContext(map[string]any{
			"workflow_type": wf.Type,
			"status":        string(wf.Status),
		}),
	}, opts...)
	t.logs.Log(ctx, module, level, msg, opts...)
}

// publish invokes the publish hook for every transition; Failed
// transitions go out on the priority path so the alert engine never
// misses them.
func (t *Tracker) publish(wf *core.Workflow) {
	if t.bus == nil {
		return
	}
	ev := events.NewWorkflowUpdatedEvent(wf)
	if wf.Status == core.WorkflowStatusFailed {
		t.bus.PublishPriority(ev)
		return
	}
	t.bus.Publish(ev)
}

// Status returns a point-in-time view of one workflow, nil if unknown.
// Terminal workflows remain visible through history.
func (t *Tracker) Status(id core.WorkflowID) *View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if wf, ok := t.active[id]; ok {
		v := newView(wf)
		return &v
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].ID == id {
			v := newView(t.history[i])
			return &v
		}
	}
	return nil
}

// Active returns views of every non-terminal workflow, oldest first.
func (t *Tracker) Active() []View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]View, 0, len(t.active))
	for _, id := range t.order {
		if wf, ok := t.active[id]; ok {
			out = append(out, newView(wf))
		}
	}
	return out
}

// ActiveCount returns the size of the active set.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// History returns views of terminal workflows, most recent first.
func (t *Tracker) History(limit int) []View {
	if limit <= 0 {
		limit = 50
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]View, 0, limit)
	for i := len(t.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, newView(t.history[i]))
	}
	return out
}

// PersistFailures returns the number of workflow saves that failed.
func (t *Tracker) PersistFailures() int64 {
	return t.persistFailures.Load()
}
