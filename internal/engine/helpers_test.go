package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rendis/flowengine/internal/expressions"
	"github.com/rendis/flowengine/pkg/schema"
)

// fakeRunner echoes the resolved input unless a step has its own behavior.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	steps map[string]func(req StepRequest) (StepResult, error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{steps: make(map[string]func(StepRequest) (StepResult, error))}
}

func (r *fakeRunner) on(name string, fn func(req StepRequest) (StepResult, error)) *fakeRunner {
	r.steps[name] = fn
	return r
}

func (r *fakeRunner) run(req StepRequest) (StepResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req.Action.Name)
	fn := r.steps[req.Action.Name]
	r.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return StepResult{Output: req.Input}, nil
}

func (r *fakeRunner) RunCode(_ context.Context, req StepRequest) (StepResult, error) {
	return r.run(req)
}

func (r *fakeRunner) RunBlock(_ context.Context, req StepRequest) (StepResult, error) {
	return r.run(req)
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type sentUpdate struct {
	verdict schema.FlowRunStatus
	steps   []string
}

// recordingSender records every progress update it receives.
type recordingSender struct {
	mu      sync.Mutex
	updates []sentUpdate
	err     error
}

func (s *recordingSender) Send(_ context.Context, state *RunState, _ *RunConstants) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, sentUpdate{verdict: state.Verdict(), steps: state.Steps().Names()})
	return s.err
}

func (s *recordingSender) Updates() []sentUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentUpdate(nil), s.updates...)
}

type panickingResolver struct {
	value any
}

func (p panickingResolver) Resolve(context.Context, any, map[string]any) (any, any, error) {
	panic(p.value)
}

type mapDecoder map[string]any

func (d mapDecoder) Decode(encoded string) (any, error) {
	v, ok := d[encoded]
	if !ok {
		return nil, errors.New("cannot decode " + encoded)
	}
	return v, nil
}

func testConstants() *RunConstants {
	return NewRunConstants(RunConstants{
		ProjectID: "project-1",
		RunID:     "run-1",
		Variables: expressions.NewTemplateResolver(nil),
	})
}

func triggerState(output any) *RunState {
	return EmptyState().UpsertStep("trigger", schema.StepOutput{
		Type:   string(schema.TriggerTypeEmpty),
		Status: schema.StepStatusSucceeded,
		Output: output,
	})
}

func codeAction(name string, input map[string]any) *schema.Action {
	return &schema.Action{
		ID:          name + "-id",
		Name:        name,
		DisplayName: name,
		Type:        schema.ActionTypeCode,
		Valid:       true,
		Settings:    schema.ActionSettings{Input: input, SourceCode: &schema.SourceCode{Code: "inputs"}},
	}
}

// chain links actions through NextAction and returns the head.
func chain(actions ...*schema.Action) *schema.Action {
	for i := 0; i < len(actions)-1; i++ {
		actions[i].NextAction = actions[i+1]
	}
	if len(actions) == 0 {
		return nil
	}
	return actions[0]
}

func trigger(next *schema.Action) *schema.Trigger {
	return &schema.Trigger{ID: "trigger-id", Name: "trigger", Type: schema.TriggerTypeEmpty, Valid: true, NextAction: next}
}

func condition(first, second any, op schema.BranchOperator) schema.BranchCondition {
	return schema.BranchCondition{FirstValue: first, SecondValue: second, Operator: op}
}
