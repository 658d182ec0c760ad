package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowLifecycle(t *testing.T) {
	wf := NewWorkflow("wf-1", "deploy", nil)
	assert.Equal(t, WorkflowStatusPending, wf.Status)
	assert.False(t, wf.IsTerminal())

	require.NoError(t, wf.Start())
	assert.Equal(t, WorkflowStatusRunning, wf.Status)
	require.NotNil(t, wf.StartedAt)

	// Only pending workflows can start.
	assert.Error(t, wf.Start())

	require.NoError(t, wf.Complete())
	assert.True(t, wf.IsTerminal())
	require.NotNil(t, wf.CompletedAt)

	// Terminal states reject further transitions.
	assert.Error(t, wf.Complete())
	assert.Error(t, wf.Fail("late"))
	assert.Error(t, wf.Cancel("late"))
}

func TestWorkflowStepAggregation(t *testing.T) {
	wf := NewWorkflow("wf-1", "pipeline", nil)
	require.NoError(t, wf.Start())

	s1 := NewStep("s1", "fetch", "ingest", nil)
	s2 := NewStep("s2", "transform", "ingest", nil)
	s3 := NewStep("s3", "publish", "output", nil)
	require.NoError(t, wf.AddStep(s1))
	require.NoError(t, wf.AddStep(s2))
	require.NoError(t, wf.AddStep(s3))

	require.NoError(t, s1.MarkRunning())
	require.NoError(t, s1.MarkCompleted(120, nil))
	wf.Recompute()
	assert.Equal(t, WorkflowStatusRunning, wf.Status)
	assert.Equal(t, 1, wf.CompletedSteps)
	assert.InDelta(t, 100.0/3, wf.Progress(), 0.01)

	// One failed step fails the workflow even with steps outstanding.
	require.NoError(t, s2.MarkRunning())
	require.NoError(t, s2.MarkFailed("boom", []string{"stack"}))
	wf.Recompute()
	assert.Equal(t, WorkflowStatusFailed, wf.Status)
	assert.Equal(t, 1, wf.FailedSteps)
	require.NotNil(t, wf.CompletedAt)

	// A later completion updates counters but not the terminal status.
	require.NoError(t, s3.MarkRunning())
	require.NoError(t, s3.MarkCompleted(40, nil))
	wf.Recompute()
	assert.Equal(t, WorkflowStatusFailed, wf.Status)
	assert.Equal(t, 2, wf.CompletedSteps)
	assert.InDelta(t, 100.0, wf.Progress(), 0.01)
}

func TestWorkflowCompletesWhenAllStepsComplete(t *testing.T) {
	wf := NewWorkflow("wf-1", "sync", nil)
	require.NoError(t, wf.Start())

	for _, id := range []StepID{"a", "b"} {
		step := NewStep(id, string(id), "m", nil)
		require.NoError(t, wf.AddStep(step))
		require.NoError(t, step.MarkRunning())
		require.NoError(t, step.MarkCompleted(10, nil))
	}
	wf.Recompute()

	assert.Equal(t, WorkflowStatusCompleted, wf.Status)
	assert.InDelta(t, 20.0, wf.TotalDurationMS, 0.01)
}

func TestWorkflowZeroStepsNeverAutoCompletes(t *testing.T) {
	wf := NewWorkflow("wf-1", "empty", nil)
	require.NoError(t, wf.Start())

	wf.Recompute()
	assert.Equal(t, WorkflowStatusRunning, wf.Status)
	assert.Zero(t, wf.Progress())
}

func TestWorkflowAddStepRejectedWhenTerminal(t *testing.T) {
	wf := NewWorkflow("wf-1", "t", nil)
	require.NoError(t, wf.Start())
	require.NoError(t, wf.Cancel("shutdown"))

	err := wf.AddStep(NewStep("s1", "late", "m", nil))
	assert.Error(t, err)
	assert.Zero(t, wf.TotalSteps)
}

func TestWorkflowValidateCounters(t *testing.T) {
	wf := NewWorkflow("wf-1", "t", nil)
	require.NoError(t, wf.Validate())

	wf.TotalSteps = 2
	wf.CompletedSteps = 2
	wf.FailedSteps = 1
	assert.Error(t, wf.Validate())
}

func TestWorkflowCloneIsDeep(t *testing.T) {
	wf := NewWorkflow("wf-1", "t", map[string]any{"k": "v"})
	step := NewStep("s1", "one", "m", nil)
	require.NoError(t, wf.AddStep(step))

	cp := wf.Clone()
	require.NoError(t, step.MarkRunning())
	require.NoError(t, step.MarkFailed("err", []string{"line"}))

	assert.Equal(t, StepStatusPending, cp.Steps[0].Status)
	assert.Empty(t, cp.Steps[0].Logs)
}

func TestStepForwardOnlyTransitions(t *testing.T) {
	step := NewStep("s1", "one", "m", nil)

	// pending -> completed is allowed without running
	require.NoError(t, step.MarkCompleted(5, nil))
	assert.True(t, step.IsTerminal())

	assert.Error(t, step.MarkRunning())
	assert.Error(t, step.MarkFailed("late", nil))
	assert.Error(t, step.MarkSkipped("late"))
}

func TestStepSkipOnlyFromPending(t *testing.T) {
	step := NewStep("s1", "one", "m", nil)
	require.NoError(t, step.MarkRunning())
	assert.Error(t, step.MarkSkipped("running"))
}

func TestStepDurationFallsBackToWallClock(t *testing.T) {
	step := NewStep("s1", "one", "m", nil)
	require.NoError(t, step.MarkRunning())
	require.NoError(t, step.MarkCompleted(0, nil))
	assert.GreaterOrEqual(t, step.DurationMS, 0.0)
	require.NotNil(t, step.CompletedAt)
}
