package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowengine/pkg/schema"
)

func TestRunState_Immutable(t *testing.T) {
	s0 := EmptyState()
	s1 := s0.UpsertStep("a", schema.StepOutput{Type: "CODE", Status: schema.StepStatusSucceeded, Output: 1})
	s2 := s1.IncreaseTask(1).AddTags("x").SetVerdict(schema.RunStatusFailed, schema.VerdictResponse{})

	assert.Equal(t, 0, s0.Steps().Len())
	assert.Equal(t, schema.RunStatusRunning, s0.Verdict())
	assert.Equal(t, []string{"a"}, s1.Steps().Names())
	assert.Equal(t, 0, s1.Tasks())
	assert.Equal(t, schema.RunStatusRunning, s1.Verdict())
	assert.Equal(t, 1, s2.Tasks())
	assert.Equal(t, schema.RunStatusFailed, s2.Verdict())
	assert.Empty(t, s1.ToResponse().Tags)
}

func TestRunState_UpsertKeepsPosition(t *testing.T) {
	s := EmptyState().
		UpsertStep("a", schema.StepOutput{Output: 1}).
		UpsertStep("b", schema.StepOutput{Output: 2}).
		UpsertStep("a", schema.StepOutput{Output: 3})

	assert.Equal(t, []string{"a", "b"}, s.Steps().Names())
	out, _ := s.Step("a")
	assert.Equal(t, 3, out.Output)
}

func TestRunState_Durations(t *testing.T) {
	s := EmptyState().UpsertStep("a", schema.StepOutput{}).
		SetStepDuration("a", 12.5).
		SetStepDuration("missing", 1).
		SetDuration(40)

	out, _ := s.Step("a")
	assert.Equal(t, 12.5, out.Duration)
	assert.Equal(t, float64(40), s.Duration())
	assert.Equal(t, []string{"a"}, s.Steps().Names())
}

func TestRunState_Tags(t *testing.T) {
	s := EmptyState().SetTags([]string{"a"}).AddTags("b", "a", "c")
	assert.Equal(t, []string{"a", "b", "c"}, s.ToResponse().Tags)
}

func TestRunState_Scope(t *testing.T) {
	s := EmptyState().
		UpsertStep("code", schema.StepOutput{Output: map[string]any{"x": 1}}).
		UpsertStep("loop", schema.StepOutput{Output: schema.LoopOutput{Item: "i", Index: 3}})

	scope := s.Scope()
	assert.Equal(t, map[string]any{"x": 1}, scope["code"])
	assert.Equal(t, map[string]any{"item": "i", "index": 3, "iterations": []any{}}, scope["loop"])
}

func TestRunState_ToResponse(t *testing.T) {
	pause := &schema.PauseMetadata{Type: schema.PauseTypeDelay}
	paused := EmptyState().IncreaseTask(2).SetVerdict(schema.RunStatusPaused, schema.VerdictResponse{PauseMetadata: pause})
	resp := paused.ToResponse()
	assert.Equal(t, schema.RunStatusPaused, resp.Status)
	assert.Equal(t, pause, resp.PauseMetadata)
	assert.Equal(t, 2, resp.Tasks)
	assert.Nil(t, resp.Error)

	failed := EmptyState().SetVerdict(schema.RunStatusFailed, schema.VerdictResponse{
		FailedStep: &schema.FailedStep{Name: "s", DisplayName: "S", Message: "boom"},
	})
	resp = failed.ToResponse()
	require.NotNil(t, resp.Error)
	assert.Equal(t, schema.RunError{StepName: "s", Message: "boom"}, *resp.Error)

	stopped := EmptyState().SetVerdict(schema.RunStatusStopped, schema.VerdictResponse{StopResponse: "done"})
	assert.Equal(t, "done", stopped.ToResponse().StopResponse)
}

func TestNewState_CopiesSteps(t *testing.T) {
	steps := schema.NewStepMap().With("a", schema.StepOutput{Status: schema.StepStatusSucceeded})
	s := NewState(steps)
	s2 := s.UpsertStep("b", schema.StepOutput{})

	assert.Equal(t, schema.RunStatusRunning, s.Verdict())
	assert.Equal(t, []string{"a"}, steps.Names())
	assert.Equal(t, []string{"a", "b"}, s2.Steps().Names())
}
