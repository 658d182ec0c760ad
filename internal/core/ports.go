package core

import (
	"context"
	"time"
)

// LogStore persists the append-only audit trail. Each component owns a
// disjoint table family; the SQLite adapter implements every port.
type LogStore interface {
	// InsertLog appends one record.
	InsertLog(ctx context.Context, rec *LogRecord) error

	// QueryLogs returns records newest first, optionally filtered by
	// module and level. Empty filters match everything.
	QueryLogs(ctx context.Context, limit int, module string, level LogLevel) ([]*LogRecord, error)

	// DeleteLogsBefore removes records older than cutoff, returning the
	// number of rows deleted. Must not require exclusive table access.
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkflowStore persists workflows and their steps.
type WorkflowStore interface {
	// SaveWorkflow upserts a workflow and replaces its steps.
	SaveWorkflow(ctx context.Context, wf *Workflow) error

	// LoadWorkflow retrieves one workflow, nil if unknown.
	LoadWorkflow(ctx context.Context, id WorkflowID) (*Workflow, error)

	// ListWorkflows returns workflows most recent first. A nil status
	// filter matches every status.
	ListWorkflows(ctx context.Context, statuses []WorkflowStatus, limit int) ([]*Workflow, error)

	// DeleteWorkflowsBefore removes terminal workflows whose completion
	// time is older than cutoff.
	DeleteWorkflowsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetricsStore persists system and module metric samples.
type MetricsStore interface {
	InsertSystemSample(ctx context.Context, s *SystemMetricsSample) error
	InsertModuleSample(ctx context.Context, s *ModuleMetricsSample) error

	// SystemSamplesSince returns samples newer than since, descending time.
	SystemSamplesSince(ctx context.Context, since time.Time, limit int) ([]*SystemMetricsSample, error)

	// ModuleSamplesSince returns samples newer than since, descending
	// time. Empty module matches all modules.
	ModuleSamplesSince(ctx context.Context, module string, since time.Time, limit int) ([]*ModuleMetricsSample, error)

	DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore persists alerts, operator rules and the action history.
type AlertStore interface {
	SaveAlert(ctx context.Context, a *Alert) error
	DeleteAlert(ctx context.Context, id string) error
	ListAlerts(ctx context.Context) ([]*Alert, error)

	SaveRule(ctx context.Context, r *AlertRule) error
	ListRules(ctx context.Context) ([]*AlertRule, error)

	// RecordAlertAction appends one row to the alert history.
	RecordAlertAction(ctx context.Context, a *Alert, action, actor string) error

	// AlertHistory returns recent history rows, newest first.
	AlertHistory(ctx context.Context, limit int) ([]*AlertAction, error)

	// CountAlertActionsSince counts history rows newer than since.
	CountAlertActionsSince(ctx context.Context, since time.Time) (int64, error)
}

// AlertAction is one row of the alert audit history.
type AlertAction struct {
	AlertID   string        `json:"alert_id"`
	Action    string        `json:"action"`
	Actor     string        `json:"actor,omitempty"`
	Severity  AlertSeverity `json:"severity"`
	Title     string        `json:"title"`
	Timestamp time.Time     `json:"timestamp"`
}
