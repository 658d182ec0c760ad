package core

import "time"

// LogLevel classifies the severity of a log record.
type LogLevel string

const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelCritical LogLevel = "critical"
)

// ValidLevel reports whether l is a known log level.
func ValidLevel(l LogLevel) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// LogRecord is one immutable entry in the audit trail. Records are
// append-only: once written they are never mutated, only purged by the
// retention sweep.
type LogRecord struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Module     string         `json:"module"`
	Level      LogLevel       `json:"level"`
	Message    string         `json:"message"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	DurationMS float64        `json:"duration_ms,omitempty"`
	Status     string         `json:"status,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
