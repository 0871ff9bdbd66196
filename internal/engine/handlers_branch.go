package engine

import (
	"context"

	"github.com/rendis/flowengine/pkg/schema"
)

// branchHandler evaluates a Branch action and runs the success or failure
// chain on the updated state.
type branchHandler struct {
	exec *Executor
}

func (h *branchHandler) Handle(ctx context.Context, action *schema.Action, state *RunState, constants *RunConstants) (*RunState, error) {
	out := schema.StepOutput{
		Type:   string(action.Type),
		Status: schema.StepStatusRunning,
		Input:  map[string]any{"conditions": action.Settings.Conditions},
	}

	resolved, censored, err := resolveConditions(ctx, constants, action.Settings.Conditions, state)
	if err != nil {
		return failStep(state, action, out, err.Error()), nil
	}
	out.Input = map[string]any{"conditions": censored}

	condition, err := EvaluateGroups(resolved)
	if err != nil {
		return failStep(state, action, out, err.Error()), nil
	}

	out.Status = schema.StepStatusSucceeded
	out.Output = schema.BranchOutput{Condition: &condition}
	state = state.UpsertStep(action.Name, out)

	next := action.OnFailureAction
	if condition {
		next = action.OnSuccessAction
	}
	if next == nil {
		return state, nil
	}
	return h.exec.ExecuteFrom(ctx, next, state, constants)
}
