package engine

import (
	"context"

	"github.com/rendis/flowengine/pkg/schema"
)

func resolveValue(ctx context.Context, constants *RunConstants, value any, state *RunState) (any, any, error) {
	if constants.Variables == nil {
		return value, value, nil
	}
	return constants.Variables.Resolve(ctx, value, state.Scope())
}

// failStep records out as FAILED and fails the run on behalf of action.
func failStep(state *RunState, action *schema.Action, out schema.StepOutput, message string) *RunState {
	out.Status = schema.StepStatusFailed
	out.ErrorMessage = message
	return state.UpsertStep(action.Name, out).SetVerdict(schema.RunStatusFailed, schema.VerdictResponse{
		FailedStep: &schema.FailedStep{
			Name:        action.Name,
			DisplayName: action.DisplayName,
			Message:     message,
		},
	})
}
