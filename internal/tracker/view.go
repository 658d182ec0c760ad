package tracker

import (
	"time"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

// View is a read-only snapshot of one workflow, shaped for API and
// dashboard consumers.
type View struct {
	ID              core.WorkflowID     `json:"id"`
	Type            string              `json:"type"`
	Status          core.WorkflowStatus `json:"status"`
	Progress        float64             `json:"progress"`
	TotalSteps      int                 `json:"total_steps"`
	CompletedSteps  int                 `json:"completed_steps"`
	FailedSteps     int                 `json:"failed_steps"`
	TotalDurationMS float64             `json:"total_duration_ms"`
	Error           string              `json:"error,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	Steps           []StepView          `json:"steps"`
	CreatedAt       time.Time           `json:"created_at"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

// StepView is a read-only snapshot of one step.
type StepView struct {
	ID          core.StepID     `json:"id"`
	Name        string          `json:"name"`
	Module      string          `json:"module"`
	Status      core.StepStatus `json:"status"`
	DurationMS  float64         `json:"duration_ms"`
	Error       string          `json:"error,omitempty"`
	Logs        []string        `json:"logs,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// newView builds a View from a workflow. The caller must hold at least
// a read lock over wf; the returned value shares no mutable state with
// the source.
func newView(wf *core.Workflow) View {
	steps := make([]StepView, len(wf.Steps))
	for i, s := range wf.Steps {
		steps[i] = StepView{
			ID:          s.ID,
			Name:        s.Name,
			Module:      s.Module,
			Status:      s.Status,
			DurationMS:  s.DurationMS,
			Error:       s.Error,
			Logs:        append([]string(nil), s.Logs...),
			StartedAt:   copyTime(s.StartedAt),
			CompletedAt: copyTime(s.CompletedAt),
		}
	}
	return View{
		ID:              wf.ID,
		Type:            wf.Type,
		Status:          wf.Status,
		Progress:        wf.Progress(),
		TotalSteps:      wf.TotalSteps,
		CompletedSteps:  wf.CompletedSteps,
		FailedSteps:     wf.FailedSteps,
		TotalDurationMS: wf.TotalDurationMS,
		Error:           wf.Error,
		Metadata:        wf.Metadata,
		Steps:           steps,
		CreatedAt:       wf.CreatedAt,
		StartedAt:       copyTime(wf.StartedAt),
		CompletedAt:     copyTime(wf.CompletedAt),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
