package core

import (
	"fmt"
	"time"
)

// AlertSeverity classifies operator alerts.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s AlertSeverity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Alert is an operator-facing notification. Its lifecycle is
// created -> acknowledged (optional) -> dismissed | expired.
type Alert struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Severity       AlertSeverity  `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	Module         string         `json:"module,omitempty"`
	WorkflowID     WorkflowID     `json:"workflow_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AutoDismiss    bool           `json:"auto_dismiss"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the alert's auto-dismiss deadline has passed.
// Alerts without an expiry persist until explicitly dismissed.
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Acknowledge marks the alert acknowledged by actor. Repeat calls are
// last-write-wins.
func (a *Alert) Acknowledge(actor string) {
	a.Acknowledged = true
	a.AcknowledgedBy = actor
	now := time.Now()
	a.AcknowledgedAt = &now
}

// RuleType classifies alert rules.
type RuleType string

const (
	RuleTypePerformance RuleType = "performance"
	RuleTypeWorkflow    RuleType = "workflow"
	RuleTypeCustom      RuleType = "custom"
)

// RuleCondition is a tagged condition over a telemetry snapshot. Exactly
// the fields for its Kind are meaningful; Evaluate matches on the tag.
type RuleCondition struct {
	Kind RuleType `json:"kind" yaml:"kind"`

	// Performance: data[Metric] >= Threshold.
	Metric    string  `json:"metric,omitempty" yaml:"metric,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	// Workflow: workflow status matches and failure count reached.
	Status              WorkflowStatus `json:"status,omitempty" yaml:"status,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures,omitempty" yaml:"consecutive_failures,omitempty"`

	// Custom: data[Field] compared to Value with Op (gte, lte, eq).
	Field string  `json:"field,omitempty" yaml:"field,omitempty"`
	Op    string  `json:"op,omitempty" yaml:"op,omitempty"`
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

// RuleAction describes the alert a satisfied rule produces.
type RuleAction struct {
	Severity          AlertSeverity `json:"severity" yaml:"severity"`
	AutoDismiss       bool          `json:"auto_dismiss" yaml:"auto_dismiss"`
	DismissAfterHours float64       `json:"dismiss_after_hours" yaml:"dismiss_after_hours"`
}

// AlertRule is a named, operator-managed predicate over a telemetry
// snapshot. Rules are stateless between evaluations.
type AlertRule struct {
	Name      string        `json:"name" yaml:"name"`
	Type      RuleType      `json:"type" yaml:"type"`
	Condition RuleCondition `json:"condition" yaml:"condition"`
	Action    RuleAction    `json:"action" yaml:"action"`
	Enabled   bool          `json:"enabled" yaml:"enabled"`
}

// RuleInput is the snapshot rules are evaluated against. Counting
// consecutive failures is the caller's responsibility.
type RuleInput struct {
	Metrics        map[string]float64 `json:"metrics"`
	WorkflowStatus WorkflowStatus     `json:"workflow_status,omitempty"`
	FailureCount   int                `json:"failure_count,omitempty"`
	Module         string             `json:"module,omitempty"`
	WorkflowID     WorkflowID         `json:"workflow_id,omitempty"`
}

// Matches evaluates the condition against one snapshot. Unknown kinds and
// missing metrics never match.
func (c RuleCondition) Matches(in RuleInput) bool {
	switch c.Kind {
	case RuleTypePerformance:
		v, ok := in.Metrics[c.Metric]
		return ok && v >= c.Threshold
	case RuleTypeWorkflow:
		return in.WorkflowStatus == c.Status && in.FailureCount >= c.ConsecutiveFailures
	case RuleTypeCustom:
		v, ok := in.Metrics[c.Field]
		if !ok {
			return false
		}
		switch c.Op {
		case "gte", "":
			return v >= c.Value
		case "lte":
			return v <= c.Value
		case "eq":
			return v == c.Value
		}
	}
	return false
}

// Validate checks the rule for configuration errors. Malformed rules are
// rejected at registration; the engine keeps running.
func (r *AlertRule) Validate() error {
	if r.Name == "" {
		return ErrValidation("RULE_NAME_REQUIRED", "rule name cannot be empty")
	}
	if !ValidSeverity(r.Action.Severity) {
		return ErrValidation("RULE_SEVERITY_INVALID",
			fmt.Sprintf("unknown severity %q", r.Action.Severity))
	}
	if r.Action.DismissAfterHours < 0 {
		return ErrValidation("RULE_DISMISS_INVALID", "dismiss_after_hours cannot be negative")
	}
	switch r.Condition.Kind {
	case RuleTypePerformance:
		if r.Condition.Metric == "" {
			return ErrValidation("RULE_METRIC_REQUIRED", "performance condition needs a metric")
		}
	case RuleTypeWorkflow:
		if r.Condition.Status == "" {
			return ErrValidation("RULE_STATUS_REQUIRED", "workflow condition needs a status")
		}
	case RuleTypeCustom:
		if r.Condition.Field == "" {
			return ErrValidation("RULE_FIELD_REQUIRED", "custom condition needs a field")
		}
		switch r.Condition.Op {
		case "", "gte", "lte", "eq":
		default:
			return ErrValidation("RULE_OP_INVALID",
				fmt.Sprintf("unknown comparison op %q", r.Condition.Op))
		}
	default:
		return ErrValidation("RULE_KIND_INVALID",
			fmt.Sprintf("unknown condition kind %q", r.Condition.Kind))
	}
	return nil
}
