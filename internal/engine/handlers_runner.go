package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rendis/flowengine/internal/logging"
	"github.com/rendis/flowengine/pkg/schema"
)

// runnerHandler executes Code and Block steps through the StepRunner.
type runnerHandler struct {
	runner StepRunner
	code   bool
	logger *slog.Logger
}

func (h *runnerHandler) Handle(ctx context.Context, action *schema.Action, state *RunState, constants *RunConstants) (*RunState, error) {
	prev, seen := state.Step(action.Name)
	if seen && prev.Status == schema.StepStatusSucceeded {
		return state, nil
	}
	// Only the step that paused receives the resume signal; later pause
	// steps of a resumed run pause again.
	resuming := constants.Resuming() && seen && prev.Status == schema.StepStatusPaused
	if h.runner == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no step runner configured").WithStep(action.Name)
	}

	out := schema.StepOutput{Type: string(action.Type), Status: schema.StepStatusRunning}

	resolved, censored, err := resolveValue(ctx, constants, action.Settings.Input, state)
	if err != nil {
		out.Input = action.Settings.Input
		return failStep(state, action, out, err.Error()), nil
	}
	out.Input = censored

	req := StepRequest{
		Action:         action,
		Input:          resolved,
		RetryOnFailure: action.Settings.RetryOnFailure(),
		Resuming:       resuming,
		ResumePayload:  resumePayload(resuming, constants),
		RunID:          constants.RunID,
		ProjectID:      constants.ProjectID,
	}

	var result StepResult
	if h.code {
		result, err = h.runner.RunCode(ctx, req)
	} else {
		result, err = h.runner.RunBlock(ctx, req)
	}
	state = state.IncreaseTask(1)

	if err != nil {
		if errors.Is(err, ErrExecutionTimeout) {
			return nil, err
		}
		if action.Settings.ContinueOnFailure() {
			logging.LogWith(ctx, h.logger).Warn("step failed, continuing", "error", err)
			out.Status = schema.StepStatusFailed
			out.ErrorMessage = err.Error()
			return state.UpsertStep(action.Name, out), nil
		}
		return failStep(state, action, out, err.Error()), nil
	}

	out.Output = result.Output
	switch {
	case result.Pause != nil:
		out.Status = schema.StepStatusPaused
		return state.UpsertStep(action.Name, out).SetVerdict(schema.RunStatusPaused, schema.VerdictResponse{
			PauseMetadata: result.Pause,
		}), nil
	case result.Stop != nil:
		out.Status = schema.StepStatusSucceeded
		return state.UpsertStep(action.Name, out).SetVerdict(schema.RunStatusStopped, schema.VerdictResponse{
			StopResponse: result.Stop.Response,
		}), nil
	default:
		out.Status = schema.StepStatusSucceeded
		return state.UpsertStep(action.Name, out), nil
	}
}

func resumePayload(resuming bool, constants *RunConstants) any {
	if !resuming {
		return nil
	}
	return constants.ResumePayload
}
