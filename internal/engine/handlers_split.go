package engine

import (
	"context"

	"github.com/rendis/flowengine/pkg/schema"
)

// splitHandler runs the chain of the first matching option, falling back to
// the default branch.
type splitHandler struct {
	exec *Executor
}

func (h *splitHandler) Handle(ctx context.Context, action *schema.Action, state *RunState, constants *RunConstants) (*RunState, error) {
	settings := action.Settings
	out := schema.StepOutput{
		Type:   string(action.Type),
		Status: schema.StepStatusRunning,
		Input:  map[string]any{"defaultBranch": settings.DefaultBranch, "options": settings.Options},
	}

	resolved := make([][][]schema.BranchCondition, len(settings.Options))
	censored := make([]schema.SplitOption, len(settings.Options))
	for i, opt := range settings.Options {
		res, cen, err := resolveConditions(ctx, constants, opt.Conditions, state)
		if err != nil {
			return failStep(state, action, out, err.Error()), nil
		}
		resolved[i] = res
		censored[i] = schema.SplitOption{ID: opt.ID, Name: opt.Name, Conditions: cen}
	}
	out.Input = map[string]any{"defaultBranch": settings.DefaultBranch, "options": censored}

	chosen := ""
	for i, opt := range settings.Options {
		ok, err := EvaluateGroups(resolved[i])
		if err != nil {
			return failStep(state, action, out, err.Error()), nil
		}
		if ok {
			chosen = opt.ID
			break
		}
	}
	if chosen == "" {
		chosen = settings.DefaultBranch
	}

	out.Status = schema.StepStatusSucceeded
	if chosen == "" {
		out.Output = schema.SplitOutput{}
		return state.UpsertStep(action.Name, out), nil
	}
	out.Output = schema.SplitOutput{OptionID: &chosen}
	state = state.UpsertStep(action.Name, out)

	next := action.BranchFor(chosen)
	if next == nil {
		return state, nil
	}
	return h.exec.ExecuteFrom(ctx, next, state, constants)
}
