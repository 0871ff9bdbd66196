package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/flowengine/pkg/schema"
)

// loopHandler runs the loop body once per item, sequentially. Child steps
// are kept inside the iterations of the loop output, never at top level.
type loopHandler struct {
	exec *Executor
}

func (h *loopHandler) Handle(ctx context.Context, action *schema.Action, state *RunState, constants *RunConstants) (*RunState, error) {
	out := schema.StepOutput{
		Type:   string(action.Type),
		Status: schema.StepStatusRunning,
		Input:  map[string]any{"items": action.Settings.Items},
	}

	resolved, censored, err := resolveValue(ctx, constants, action.Settings.Items, state)
	if err != nil {
		return failStep(state, action, out, err.Error()), nil
	}
	out.Input = map[string]any{"items": censored}

	items, ok := resolved.([]any)
	if !ok {
		return failStep(state, action, out,
			fmt.Sprintf("the items you have selected must be a list, got %T", resolved)), nil
	}

	// Iterations captured before a pause seed the matching iteration, so
	// finished child steps are not executed again on resume.
	var previous []schema.StepMap
	if prev, ok := state.Step(action.Name); ok {
		previous = asLoopOutput(prev.Output).Iterations
	}

	loop := schema.LoopOutput{Iterations: []schema.StepMap{}}
	base := state
	for i, item := range items {
		loop.Item = item
		loop.Index = i
		out.Output = loopSnapshot(loop)
		base = base.UpsertStep(action.Name, out)

		iterState := base
		if i < len(previous) {
			previous[i].Each(func(name string, o schema.StepOutput) {
				iterState = iterState.UpsertStep(name, o)
			})
		}

		result := iterState
		if action.FirstLoopAction != nil {
			result, err = h.exec.ExecuteFrom(ctx, action.FirstLoopAction, iterState, constants)
			if err != nil {
				return nil, err
			}
		}

		iteration := schema.NewStepMap()
		result.Steps().Each(func(name string, o schema.StepOutput) {
			if _, inBase := base.Step(name); !inBase {
				iteration = iteration.With(name, o)
			}
		})
		loop.Iterations = append(loop.Iterations, iteration)
		out.Output = loopSnapshot(loop)
		base = base.withOutcomeOf(result)

		switch result.Verdict() {
		case schema.RunStatusRunning:
			continue
		case schema.RunStatusFailed:
			out.Status = schema.StepStatusFailed
			if fs := result.VerdictResponse().FailedStep; fs != nil {
				out.ErrorMessage = fs.Message
			}
		case schema.RunStatusPaused:
			out.Status = schema.StepStatusPaused
		default:
			out.Status = schema.StepStatusSucceeded
		}
		return base.UpsertStep(action.Name, out), nil
	}

	out.Status = schema.StepStatusSucceeded
	out.Output = loopSnapshot(loop)
	return base.UpsertStep(action.Name, out), nil
}

// loopSnapshot copies the iteration slice so earlier states keep their view.
func loopSnapshot(l schema.LoopOutput) schema.LoopOutput {
	iterations := make([]schema.StepMap, len(l.Iterations))
	copy(iterations, l.Iterations)
	l.Iterations = iterations
	return l
}

// asLoopOutput reads a loop output either as stored by this process or as
// decoded from JSON (captured steps of a resumed run).
func asLoopOutput(v any) schema.LoopOutput {
	switch t := v.(type) {
	case schema.LoopOutput:
		return t
	case *schema.LoopOutput:
		if t != nil {
			return *t
		}
	case map[string]any:
		raw, err := json.Marshal(t)
		if err != nil {
			return schema.LoopOutput{}
		}
		var l schema.LoopOutput
		if err := json.Unmarshal(raw, &l); err != nil {
			return schema.LoopOutput{}
		}
		return l
	}
	return schema.LoopOutput{}
}
