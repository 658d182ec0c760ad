package core

import (
	"fmt"
	"time"
)

// WorkflowID uniquely identifies a tracked workflow.
type WorkflowID string

// WorkflowStatus represents the current state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Workflow represents a multi-step operation tracked by the platform.
// Its aggregate status derives from its steps: one failed step makes the
// workflow Failed, and it completes only when every step completed.
type Workflow struct {
	ID              WorkflowID     `json:"id"`
	Type            string         `json:"type"`
	Status          WorkflowStatus `json:"status"`
	Steps           []*WorkflowStep `json:"steps"`
	TotalSteps      int            `json:"total_steps"`
	CompletedSteps  int            `json:"completed_steps"`
	FailedSteps     int            `json:"failed_steps"`
	TotalDurationMS float64        `json:"total_duration_ms"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// NewWorkflow creates a workflow in pending state.
func NewWorkflow(id WorkflowID, wfType string, metadata map[string]any) *Workflow {
	return &Workflow{
		ID:        id,
		Type:      wfType,
		Status:    WorkflowStatusPending,
		Steps:     make([]*WorkflowStep, 0),
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// Start transitions the workflow to running state.
func (w *Workflow) Start() error {
	if w.Status != WorkflowStatusPending {
		return fmt.Errorf("cannot start workflow in %s state", w.Status)
	}
	w.Status = WorkflowStatusRunning
	now := time.Now()
	w.StartedAt = &now
	return nil
}

// AddStep appends a pending step. Step ordering is insertion order.
func (w *Workflow) AddStep(step *WorkflowStep) error {
	if step == nil {
		return fmt.Errorf("step cannot be nil")
	}
	if w.IsTerminal() {
		return fmt.Errorf("cannot add step to workflow in %s state", w.Status)
	}
	w.Steps = append(w.Steps, step)
	w.TotalSteps = len(w.Steps)
	return nil
}

// Step retrieves a step by ID.
func (w *Workflow) Step(id StepID) (*WorkflowStep, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Recompute recalculates step counters, total duration and the derived
// aggregate status. A failed step is terminal for the workflow status even
// if later steps still run to completion.
func (w *Workflow) Recompute() {
	completed, failed := 0, 0
	var totalMS float64
	for _, s := range w.Steps {
		switch s.Status {
		case StepStatusCompleted:
			completed++
		case StepStatusFailed:
			failed++
		}
		totalMS += s.DurationMS
	}
	w.TotalSteps = len(w.Steps)
	w.CompletedSteps = completed
	w.FailedSteps = failed
	w.TotalDurationMS = totalMS

	if w.IsTerminal() {
		return
	}

	switch {
	case failed > 0:
		w.Status = WorkflowStatusFailed
		now := time.Now()
		w.CompletedAt = &now
	case w.TotalSteps > 0 && completed == w.TotalSteps:
		w.Status = WorkflowStatusCompleted
		now := time.Now()
		w.CompletedAt = &now
	}
}

// Complete transitions the workflow to completed state.
func (w *Workflow) Complete() error {
	if w.IsTerminal() {
		return fmt.Errorf("cannot complete workflow in %s state", w.Status)
	}
	w.Status = WorkflowStatusCompleted
	now := time.Now()
	w.CompletedAt = &now
	return nil
}

// Fail transitions the workflow to failed state.
func (w *Workflow) Fail(errMsg string) error {
	if w.IsTerminal() {
		return fmt.Errorf("cannot fail workflow in %s state", w.Status)
	}
	w.Status = WorkflowStatusFailed
	w.Error = errMsg
	now := time.Now()
	w.CompletedAt = &now
	return nil
}

// Cancel transitions the workflow to cancelled state.
func (w *Workflow) Cancel(reason string) error {
	if w.IsTerminal() {
		return fmt.Errorf("cannot cancel workflow in %s state", w.Status)
	}
	w.Status = WorkflowStatusCancelled
	w.Error = reason
	now := time.Now()
	w.CompletedAt = &now
	return nil
}

// Progress returns the completion percentage: terminal steps over total.
func (w *Workflow) Progress() float64 {
	if w.TotalSteps == 0 {
		return 0
	}
	return float64(w.CompletedSteps+w.FailedSteps) / float64(w.TotalSteps) * 100
}

// IsTerminal returns true if the workflow reached a final state.
func (w *Workflow) IsTerminal() bool {
	return w.Status == WorkflowStatusCompleted ||
		w.Status == WorkflowStatusFailed ||
		w.Status == WorkflowStatusCancelled
}

// Duration returns the wall-clock execution time so far.
func (w *Workflow) Duration() time.Duration {
	if w.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if w.CompletedAt != nil {
		end = *w.CompletedAt
	}
	return end.Sub(*w.StartedAt)
}

// Clone returns a deep copy safe to hand out across the lock boundary.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Steps = make([]*WorkflowStep, len(w.Steps))
	for i, s := range w.Steps {
		sc := *s
		sc.Logs = append([]string(nil), s.Logs...)
		cp.Steps[i] = &sc
	}
	return &cp
}

// Validate checks workflow invariants.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrValidation("WORKFLOW_ID_REQUIRED", "workflow ID cannot be empty")
	}
	if w.Type == "" {
		return ErrValidation("WORKFLOW_TYPE_REQUIRED", "workflow type cannot be empty")
	}
	if w.CompletedSteps+w.FailedSteps > w.TotalSteps {
		return ErrState("WORKFLOW_COUNTERS_INVALID",
			fmt.Sprintf("completed (%d) + failed (%d) exceeds total steps (%d)",
				w.CompletedSteps, w.FailedSteps, w.TotalSteps))
	}
	return nil
}
