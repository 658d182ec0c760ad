package events

import (
	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

// Event type constants.
const (
	TypeLogRecord         = "log_record"
	TypeWorkflowUpdated   = "workflow_updated"
	TypeStepUpdated       = "step_updated"
	TypeAlertCreated      = "alert_created"
	TypeAlertAcknowledged = "alert_acknowledged"
	TypeAlertDismissed    = "alert_dismissed"
	TypeAlertExpired      = "alert_expired"
	TypeSystemSample      = "system_sample"
	TypeDashboardSnapshot = "dashboard_snapshot"
)

// LogRecordEvent carries one audit log record.
type LogRecordEvent struct {
	BaseEvent
	Record *core.LogRecord `json:"record"`
}

// NewLogRecordEvent creates a new log record event.
func NewLogRecordEvent(rec *core.LogRecord) LogRecordEvent {
	return LogRecordEvent{
		BaseEvent: NewBaseEvent(TypeLogRecord, rec.WorkflowID),
		Record:    rec,
	}
}

// WorkflowUpdatedEvent is emitted on every workflow transition.
type WorkflowUpdatedEvent struct {
	BaseEvent
	WorkflowType string              `json:"workflow_type"`
	Status       core.WorkflowStatus `json:"status"`
	Progress     float64             `json:"progress"`
}

// NewWorkflowUpdatedEvent creates a new workflow updated event.
func NewWorkflowUpdatedEvent(wf *core.Workflow) WorkflowUpdatedEvent {
	return WorkflowUpdatedEvent{
		BaseEvent:    NewBaseEvent(TypeWorkflowUpdated, string(wf.ID)),
		WorkflowType: wf.Type,
		Status:       wf.Status,
		Progress:     wf.Progress(),
	}
}

// StepUpdatedEvent is emitted on every step transition.
type StepUpdatedEvent struct {
	BaseEvent
	StepID   core.StepID     `json:"step_id"`
	StepName string          `json:"step_name"`
	Module   string          `json:"module"`
	Status   core.StepStatus `json:"status"`
}

// NewStepUpdatedEvent creates a new step updated event.
func NewStepUpdatedEvent(workflowID core.WorkflowID, step *core.WorkflowStep) StepUpdatedEvent {
	return StepUpdatedEvent{
		BaseEvent: NewBaseEvent(TypeStepUpdated, string(workflowID)),
		StepID:    step.ID,
		StepName:  step.Name,
		Module:    step.Module,
		Status:    step.Status,
	}
}

// AlertEvent carries one alert lifecycle change.
type AlertEvent struct {
	BaseEvent
	Alert *core.Alert `json:"alert"`
	Actor string      `json:"actor,omitempty"`
}

// NewAlertEvent creates a new alert event of the given lifecycle type.
func NewAlertEvent(eventType string, alert *core.Alert, actor string) AlertEvent {
	return AlertEvent{
		BaseEvent: NewBaseEvent(eventType, string(alert.WorkflowID)),
		Alert:     alert,
		Actor:     actor,
	}
}

// SystemSampleEvent is emitted on every sampler tick.
type SystemSampleEvent struct {
	BaseEvent
	Sample core.SystemMetricsSample `json:"sample"`
}

// NewSystemSampleEvent creates a new system sample event.
func NewSystemSampleEvent(sample core.SystemMetricsSample) SystemSampleEvent {
	return SystemSampleEvent{
		BaseEvent: NewBaseEvent(TypeSystemSample, ""),
		Sample:    sample,
	}
}

// DashboardSnapshotEvent is the composite snapshot pushed to live
// dashboard subscribers at a fixed interval.
type DashboardSnapshotEvent struct {
	BaseEvent
	NewLogCount         int64 `json:"new_log_count"`
	ActiveWorkflowCount int   `json:"active_workflow_count"`
	ActiveAlertCount    int   `json:"active_alert_count"`
}

// NewDashboardSnapshotEvent creates a new dashboard snapshot event.
func NewDashboardSnapshotEvent(newLogs int64, activeWorkflows, activeAlerts int) DashboardSnapshotEvent {
	return DashboardSnapshotEvent{
		BaseEvent:           NewBaseEvent(TypeDashboardSnapshot, ""),
		NewLogCount:         newLogs,
		ActiveWorkflowCount: activeWorkflows,
		ActiveAlertCount:    activeAlerts,
	}
}
