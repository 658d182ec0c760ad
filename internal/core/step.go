package core

import (
	"fmt"
	"time"
)

// StepID uniquely identifies a step within a workflow.
type StepID string

// StepStatus represents the current state of a workflow step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// WorkflowStep is one unit of work inside a workflow. Steps only move
// forward: pending -> running -> completed|failed|skipped.
type WorkflowStep struct {
	ID          StepID         `json:"id"`
	Name        string         `json:"name"`
	Module      string         `json:"module"`
	Status      StepStatus     `json:"status"`
	DurationMS  float64        `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
	Logs        []string       `json:"logs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewStep creates a step in pending state.
func NewStep(id StepID, name, module string, metadata map[string]any) *WorkflowStep {
	return &WorkflowStep{
		ID:       id,
		Name:     name,
		Module:   module,
		Status:   StepStatusPending,
		Metadata: metadata,
	}
}

// MarkRunning transitions the step to running state.
func (s *WorkflowStep) MarkRunning() error {
	if s.Status != StepStatusPending {
		return fmt.Errorf("cannot start step in %s state", s.Status)
	}
	s.Status = StepStatusRunning
	now := time.Now()
	s.StartedAt = &now
	return nil
}

// MarkCompleted transitions the step to completed state. A zero durationMS
// falls back to the observed wall-clock time since the step started.
func (s *WorkflowStep) MarkCompleted(durationMS float64, logs []string) error {
	if s.IsTerminal() {
		return fmt.Errorf("cannot complete step in %s state", s.Status)
	}
	s.Status = StepStatusCompleted
	s.finish(durationMS, logs)
	return nil
}

// MarkFailed transitions the step to failed state.
func (s *WorkflowStep) MarkFailed(errMsg string, logs []string) error {
	if s.IsTerminal() {
		return fmt.Errorf("cannot fail step in %s state", s.Status)
	}
	s.Status = StepStatusFailed
	s.Error = errMsg
	s.finish(0, logs)
	return nil
}

// MarkSkipped transitions the step to skipped state.
func (s *WorkflowStep) MarkSkipped(reason string) error {
	if s.Status != StepStatusPending {
		return fmt.Errorf("cannot skip step in %s state", s.Status)
	}
	s.Status = StepStatusSkipped
	s.Error = reason
	now := time.Now()
	s.CompletedAt = &now
	return nil
}

func (s *WorkflowStep) finish(durationMS float64, logs []string) {
	now := time.Now()
	s.CompletedAt = &now
	if durationMS > 0 {
		s.DurationMS = durationMS
	} else if s.StartedAt != nil {
		s.DurationMS = float64(now.Sub(*s.StartedAt).Milliseconds())
	}
	if len(logs) > 0 {
		s.Logs = append(s.Logs, logs...)
	}
}

// IsTerminal returns true if the step reached a final state.
func (s *WorkflowStep) IsTerminal() bool {
	return s.Status == StepStatusCompleted ||
		s.Status == StepStatusFailed ||
		s.Status == StepStatusSkipped
}
