package events

import (
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

func TestEventBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()

	wf := core.NewWorkflow("wf-1", "deploy", nil)
	bus.Publish(NewWorkflowUpdatedEvent(wf))

	select {
	case received := <-ch:
		if received.EventType() != TypeWorkflowUpdated {
			t.Errorf("expected %s, got %s", TypeWorkflowUpdated, received.EventType())
		}
		if received.WorkflowID() != "wf-1" {
			t.Errorf("expected wf-1, got %s", received.WorkflowID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestEventBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	alertCh := bus.Subscribe(TypeAlertCreated, TypeAlertDismissed)
	allCh := bus.Subscribe()

	wf := core.NewWorkflow("wf-1", "deploy", nil)
	bus.Publish(NewWorkflowUpdatedEvent(wf))
	bus.Publish(NewAlertEvent(TypeAlertCreated, &core.Alert{ID: "a1"}, ""))

	// allCh should receive both
	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive workflow event")
	}
	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive alert event")
	}

	// alertCh should only receive the alert event
	select {
	case received := <-alertCh:
		if received.EventType() != TypeAlertCreated {
			t.Errorf("expected alert_created, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("alertCh should receive alert event")
	}
}

func TestEventBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5) // Small buffer
	defer bus.Close()

	priorityCh := bus.SubscribePriority()

	// Saturate with many events
	rec := &core.LogRecord{ID: "r1", Module: "m", Level: core.LevelInfo, Message: "msg"}
	for i := 0; i < 100; i++ {
		bus.Publish(NewLogRecordEvent(rec))
	}

	// Send priority event
	wf := core.NewWorkflow("wf-1", "deploy", nil)
	wf.Status = core.WorkflowStatusFailed
	bus.PublishPriority(NewWorkflowUpdatedEvent(wf))

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeWorkflowUpdated {
			t.Errorf("expected workflow_updated, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event was dropped")
	}
}

func TestEventBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	ch := bus.Subscribe()

	rec := &core.LogRecord{ID: "r1", Module: "m", Level: core.LevelInfo, Message: "msg"}
	for i := 0; i < 10; i++ {
		bus.Publish(NewLogRecordEvent(rec))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected dropped events with a saturated buffer")
	}

	// Subscriber still receives the newest events
	received := 0
	for {
		select {
		case <-ch:
			received++
		case <-time.After(50 * time.Millisecond):
			if received == 0 {
				t.Error("expected to receive buffered events")
			}
			return
		}
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	// Channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("channel not closed")
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := New(10)
	bus.Close()

	// Must not panic
	rec := &core.LogRecord{ID: "r1", Module: "m", Level: core.LevelInfo, Message: "msg"}
	bus.Publish(NewLogRecordEvent(rec))
	bus.PublishPriority(NewLogRecordEvent(rec))
	bus.Close()
}
