package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertExpired(t *testing.T) {
	now := time.Now()

	a := &Alert{ID: "a1"}
	assert.False(t, a.Expired(now), "no expiry means never expired")

	past := now.Add(-time.Minute)
	a.ExpiresAt = &past
	assert.True(t, a.Expired(now))

	future := now.Add(time.Minute)
	a.ExpiresAt = &future
	assert.False(t, a.Expired(now))

	// Boundary: an alert expiring exactly now is expired.
	a.ExpiresAt = &now
	assert.True(t, a.Expired(now))
}

func TestAlertAcknowledgeLastWriteWins(t *testing.T) {
	a := &Alert{ID: "a1"}
	a.Acknowledge("alice")
	a.Acknowledge("bob")

	assert.True(t, a.Acknowledged)
	assert.Equal(t, "bob", a.AcknowledgedBy)
	assert.NotNil(t, a.AcknowledgedAt)
}

func TestRuleConditionPerformance(t *testing.T) {
	cond := RuleCondition{Kind: RuleTypePerformance, Metric: "cpu_percent", Threshold: 80}

	assert.True(t, cond.Matches(RuleInput{Metrics: map[string]float64{"cpu_percent": 91}}))
	assert.True(t, cond.Matches(RuleInput{Metrics: map[string]float64{"cpu_percent": 80}}))
	assert.False(t, cond.Matches(RuleInput{Metrics: map[string]float64{"cpu_percent": 79.9}}))
	assert.False(t, cond.Matches(RuleInput{Metrics: map[string]float64{"mem_percent": 99}}),
		"missing metric never matches")
	assert.False(t, cond.Matches(RuleInput{}))
}

func TestRuleConditionWorkflow(t *testing.T) {
	cond := RuleCondition{Kind: RuleTypeWorkflow, Status: WorkflowStatusFailed, ConsecutiveFailures: 3}

	assert.True(t, cond.Matches(RuleInput{WorkflowStatus: WorkflowStatusFailed, FailureCount: 3}))
	assert.True(t, cond.Matches(RuleInput{WorkflowStatus: WorkflowStatusFailed, FailureCount: 5}))
	assert.False(t, cond.Matches(RuleInput{WorkflowStatus: WorkflowStatusFailed, FailureCount: 2}))
	assert.False(t, cond.Matches(RuleInput{WorkflowStatus: WorkflowStatusCompleted, FailureCount: 9}))
}

func TestRuleConditionCustom(t *testing.T) {
	in := RuleInput{Metrics: map[string]float64{"queue_depth": 50}}

	assert.True(t, RuleCondition{Kind: RuleTypeCustom, Field: "queue_depth", Op: "gte", Value: 50}.Matches(in))
	assert.True(t, RuleCondition{Kind: RuleTypeCustom, Field: "queue_depth", Op: "lte", Value: 50}.Matches(in))
	assert.True(t, RuleCondition{Kind: RuleTypeCustom, Field: "queue_depth", Op: "eq", Value: 50}.Matches(in))
	assert.True(t, RuleCondition{Kind: RuleTypeCustom, Field: "queue_depth", Value: 10}.Matches(in),
		"empty op defaults to gte")
	assert.False(t, RuleCondition{Kind: RuleTypeCustom, Field: "queue_depth", Op: "eq", Value: 49}.Matches(in))
	assert.False(t, RuleCondition{Kind: RuleTypeCustom, Field: "missing", Op: "gte", Value: 0}.Matches(in))
}

func TestRuleConditionUnknownKindNeverMatches(t *testing.T) {
	cond := RuleCondition{Kind: "bogus"}
	assert.False(t, cond.Matches(RuleInput{Metrics: map[string]float64{"x": 1}}))
}

func TestAlertRuleValidate(t *testing.T) {
	valid := AlertRule{
		Name:      "high-cpu",
		Type:      RuleTypePerformance,
		Condition: RuleCondition{Kind: RuleTypePerformance, Metric: "cpu_percent", Threshold: 90},
		Action:    RuleAction{Severity: SeverityWarning},
		Enabled:   true,
	}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*AlertRule)
	}{
		{"empty name", func(r *AlertRule) { r.Name = "" }},
		{"bad severity", func(r *AlertRule) { r.Action.Severity = "loud" }},
		{"negative dismiss", func(r *AlertRule) { r.Action.DismissAfterHours = -1 }},
		{"performance without metric", func(r *AlertRule) { r.Condition.Metric = "" }},
		{"unknown kind", func(r *AlertRule) { r.Condition.Kind = "bogus" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}

	workflowMissingStatus := AlertRule{
		Name:      "wf",
		Condition: RuleCondition{Kind: RuleTypeWorkflow},
		Action:    RuleAction{Severity: SeverityError},
	}
	assert.Error(t, workflowMissingStatus.Validate())

	customBadOp := AlertRule{
		Name:      "custom",
		Condition: RuleCondition{Kind: RuleTypeCustom, Field: "f", Op: "neq"},
		Action:    RuleAction{Severity: SeverityInfo},
	}
	assert.Error(t, customBadOp.Validate())
}

func TestDomainErrorCategories(t *testing.T) {
	err := ErrNotFound("WORKFLOW_NOT_FOUND", "unknown workflow").WithDetail("id", "wf-1")
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "WORKFLOW_NOT_FOUND")

	target := ErrNotFound("WORKFLOW_NOT_FOUND", "other text")
	assert.ErrorIs(t, err, target)
}
