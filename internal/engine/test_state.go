package engine

import (
	"context"
	"fmt"

	"github.com/rendis/flowengine/pkg/schema"
)

// SampleDecoder unpacks an encoded step test output.
// Satisfied by secrets.SampleCodec.
type SampleDecoder interface {
	Decode(encoded string) (any, error)
}

// BuildTestState synthesizes the state a flow would have when reaching
// excludedStep, without executing anything. Every other step gets its sample
// output: the decoded entry of testOutputs (keyed by step id) when present,
// else the data selected in the editor. Branch, Split and Loop steps get
// placeholders of the right shape.
func BuildTestState(fv *schema.FlowVersion, excludedStep string, testOutputs map[string]string, decoder SampleDecoder) (*RunState, error) {
	state := EmptyState()
	for _, step := range schema.AllSteps(&fv.Trigger) {
		if step.Name == excludedStep {
			continue
		}

		sample, err := sampleOutput(step, testOutputs, decoder)
		if err != nil {
			return nil, err
		}

		out := schema.StepOutput{Type: step.Type, Input: step.Settings}
		switch schema.ActionType(step.Type) {
		case schema.ActionTypeBranch:
			out.Status = schema.StepStatusSucceeded
			out.Output = schema.BranchOutput{}
		case schema.ActionTypeSplit:
			out.Status = schema.StepStatusSucceeded
			out.Output = schema.SplitOutput{}
		case schema.ActionTypeLoop:
			out.Status = schema.StepStatusSucceeded
			var item any
			if m, ok := sample.(map[string]any); ok {
				item = m["item"]
			}
			out.Output = schema.LoopOutput{Item: item, Index: 1, Iterations: []schema.StepMap{}}
		default:
			out.Status = schema.StepStatusSucceeded
			out.Output = sample
		}
		state = state.UpsertStep(step.Name, out)
	}
	return state, nil
}

func sampleOutput(step schema.StepRef, testOutputs map[string]string, decoder SampleDecoder) (any, error) {
	if encoded := testOutputs[step.ID]; step.ID != "" && encoded != "" {
		if decoder == nil {
			return nil, fmt.Errorf("cannot decode test output of step %s: no decoder configured", step.Name)
		}
		return decoder.Decode(encoded)
	}
	if step.Settings.InputUIInfo != nil {
		return step.Settings.InputUIInfo.CurrentSelectedData, nil
	}
	return nil, nil
}

// ResolveVariable resolves req.VariableExpression against the test state of
// req.FlowVersion at req.StepName. It never fails: every error, panics
// included, is reported in the response.
func ResolveVariable(ctx context.Context, req *schema.ResolveVariableRequest, constants *RunConstants, decoder SampleDecoder) (resp schema.ResolveVariableResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = failedResolve(panicMessage(r))
		}
	}()

	if constants.Variables == nil {
		return failedResolve("variable resolver is not configured")
	}

	state, err := BuildTestState(&req.FlowVersion, req.StepName, req.StepTestOutputs, decoder)
	if err != nil {
		return failedResolve(err.Error())
	}

	resolved, censored, err := constants.Variables.Resolve(ctx, req.VariableExpression, state.Scope())
	if err != nil {
		return failedResolve(err.Error())
	}
	return schema.ResolveVariableResponse{Success: true, ResolvedValue: resolved, CensoredValue: censored}
}

func failedResolve(message string) schema.ResolveVariableResponse {
	return schema.ResolveVariableResponse{Success: false, Error: message}
}

func panicMessage(r any) string {
	switch v := r.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
