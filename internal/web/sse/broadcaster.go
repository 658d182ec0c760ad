package sse

import (
	"context"
	"log/slog"
	"time"

	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/tasks"
)

// SnapshotSource exposes the counters the composite snapshot is built
// from. The three components each implement one method.
type SnapshotSource interface {
	WrittenCount() int64
}

// WorkflowCounter reports the number of non-terminal workflows.
type WorkflowCounter interface {
	ActiveCount() int
}

// AlertCounter reports the number of non-expired alerts.
type AlertCounter interface {
	ActiveCount() int
}

// Broadcaster pushes a composite dashboard snapshot onto the event bus
// at a fixed interval. Delivery is fire-and-forget: a missed push is
// superseded by the next one.
type Broadcaster struct {
	bus       *events.EventBus
	logs      SnapshotSource
	workflows WorkflowCounter
	alerts    AlertCounter

	loop     *tasks.Loop
	lastLogs int64
}

// NewBroadcaster creates a snapshot broadcaster ticking at interval.
func NewBroadcaster(bus *events.EventBus, logs SnapshotSource, workflows WorkflowCounter, alerts AlertCounter, interval time.Duration, logger *slog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	b := &Broadcaster{
		bus:       bus,
		logs:      logs,
		workflows: workflows,
		alerts:    alerts,
	}
	b.loop = tasks.NewLoop("dashboard_fanout", interval, b.push, logger)
	return b
}

// Start begins the periodic push.
func (b *Broadcaster) Start(ctx context.Context) {
	b.loop.Start(ctx)
}

// Stop halts the periodic push.
func (b *Broadcaster) Stop() {
	b.loop.Stop()
}

// push assembles and publishes one snapshot. The log counter is a
// running total; subscribers get the delta since the previous push.
func (b *Broadcaster) push(context.Context) error {
	total := b.logs.WrittenCount()
	delta := total - b.lastLogs
	b.lastLogs = total

	b.bus.Publish(events.NewDashboardSnapshotEvent(
		delta,
		b.workflows.ActiveCount(),
		b.alerts.ActiveCount(),
	))
	return nil
}

// Status reports the fan-out loop health.
func (b *Broadcaster) Status() tasks.Status {
	return b.loop.Status()
}
