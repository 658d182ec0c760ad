package alerts

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
)

// FailureMonitor consumes the priority event channel and turns workflow
// failures into rule evaluations. Failed transitions arrive on the
// blocking priority path so none is ever dropped; the consecutive
// failure count resets whenever a workflow completes.
type FailureMonitor struct {
	engine *Engine
	bus    *events.EventBus
	logger *slog.Logger

	priority <-chan events.Event
	updates  <-chan events.Event
	failures atomic.Int64
	stopCh   chan struct{}
	done     chan struct{}
}

// NewFailureMonitor creates a monitor feeding engine from bus.
func NewFailureMonitor(engine *Engine, bus *events.EventBus, logger *slog.Logger) *FailureMonitor {
	return &FailureMonitor{
		engine: engine,
		bus:    bus,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the bus and begins consuming events.
func (m *FailureMonitor) Start(ctx context.Context) {
	m.priority = m.bus.SubscribePriority()
	m.updates = m.bus.Subscribe(events.TypeWorkflowUpdated)
	go m.run(ctx)
}

// Stop halts the monitor and waits for the consumer to exit.
func (m *FailureMonitor) Stop() {
	close(m.stopCh)
	<-m.done
	m.bus.Unsubscribe(m.priority)
	m.bus.Unsubscribe(m.updates)
}

// Failures returns the current consecutive failure count.
func (m *FailureMonitor) Failures() int {
	return int(m.failures.Load())
}

func (m *FailureMonitor) run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case ev, ok := <-m.priority:
			if !ok {
				return
			}
			// Critical alert events also travel the priority path;
			// draining them here is the only handling they need.
			wf, isWorkflow := ev.(events.WorkflowUpdatedEvent)
			if !isWorkflow || wf.Status != core.WorkflowStatusFailed {
				continue
			}
			n := int(m.failures.Add(1))
			created := m.engine.Evaluate(ctx, core.RuleInput{
				WorkflowStatus: core.WorkflowStatusFailed,
				FailureCount:   n,
				WorkflowID:     core.WorkflowID(wf.WorkflowID()),
			})
			if len(created) > 0 {
				m.logger.Info("workflow failure matched alert rules",
					"workflow_id", wf.WorkflowID(),
					"consecutive_failures", n,
					"alerts", len(created))
			}
		case ev, ok := <-m.updates:
			if !ok {
				return
			}
			if wf, isWorkflow := ev.(events.WorkflowUpdatedEvent); isWorkflow &&
				wf.Status == core.WorkflowStatusCompleted {
				m.failures.Store(0)
			}
		}
	}
}
