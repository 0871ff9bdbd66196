package engine

import (
	"slices"

	"github.com/rendis/flowengine/pkg/schema"
)

// RunState is the immutable state of one run: step outputs in execution
// order, the verdict and its bookkeeping. Every mutation returns a new
// value, so a caller holding an older *RunState never observes later steps.
type RunState struct {
	steps    schema.StepMap
	verdict  schema.FlowRunStatus
	response schema.VerdictResponse
	duration float64
	tasks    int
	tags     []string
}

// EmptyState returns a RUNNING state without steps.
func EmptyState() *RunState {
	return &RunState{steps: schema.NewStepMap(), verdict: schema.RunStatusRunning}
}

// NewState returns a RUNNING state seeded with steps, e.g. the captured steps
// of a paused run.
func NewState(steps schema.StepMap) *RunState {
	s := EmptyState()
	steps.Each(func(name string, out schema.StepOutput) {
		s.steps = s.steps.With(name, out)
	})
	return s
}

func (s *RunState) clone() *RunState {
	cp := *s
	cp.tags = slices.Clone(s.tags)
	return &cp
}

func (s *RunState) Verdict() schema.FlowRunStatus           { return s.verdict }
func (s *RunState) VerdictResponse() schema.VerdictResponse { return s.response }
func (s *RunState) Duration() float64                       { return s.duration }
func (s *RunState) Tasks() int                              { return s.tasks }
func (s *RunState) Steps() schema.StepMap                   { return s.steps }

// Step looks up a step output by name.
func (s *RunState) Step(name string) (schema.StepOutput, bool) {
	return s.steps.Get(name)
}

// UpsertStep sets the output of a step. A new step is appended; an existing
// one keeps its position.
func (s *RunState) UpsertStep(name string, out schema.StepOutput) *RunState {
	cp := s.clone()
	cp.steps = s.steps.With(name, out)
	return cp
}

// SetVerdict moves the run to verdict. Callers do not change a verdict that
// is already terminal.
func (s *RunState) SetVerdict(verdict schema.FlowRunStatus, response schema.VerdictResponse) *RunState {
	cp := s.clone()
	cp.verdict = verdict
	cp.response = response
	return cp
}

// SetStepDuration records the wall-clock milliseconds a step took. Unknown
// steps are ignored.
func (s *RunState) SetStepDuration(name string, ms float64) *RunState {
	out, ok := s.steps.Get(name)
	if !ok {
		return s
	}
	out.Duration = ms
	return s.UpsertStep(name, out)
}

// SetDuration records the total run duration in milliseconds.
func (s *RunState) SetDuration(ms float64) *RunState {
	cp := s.clone()
	cp.duration = ms
	return cp
}

// IncreaseTask adds n executed tasks.
func (s *RunState) IncreaseTask(n int) *RunState {
	cp := s.clone()
	cp.tasks += n
	return cp
}

func (s *RunState) SetTags(tags []string) *RunState {
	cp := s.clone()
	cp.tags = slices.Clone(tags)
	return cp
}

// AddTags appends tags that are not present yet.
func (s *RunState) AddTags(tags ...string) *RunState {
	cp := s.clone()
	for _, t := range tags {
		if !slices.Contains(cp.tags, t) {
			cp.tags = append(cp.tags, t)
		}
	}
	return cp
}

// withOutcomeOf keeps the steps of s and takes the verdict, task count and
// tags of other. Used to fold a sub-chain executed on a scratch state back
// into its parent.
func (s *RunState) withOutcomeOf(other *RunState) *RunState {
	cp := s.clone()
	cp.verdict = other.verdict
	cp.response = other.response
	cp.tasks = other.tasks
	cp.tags = slices.Clone(other.tags)
	return cp
}

// Scope maps step names to their outputs for template resolution.
func (s *RunState) Scope() map[string]any {
	scope := make(map[string]any, s.steps.Len())
	s.steps.Each(func(name string, out schema.StepOutput) {
		scope[name] = schema.PlainValue(out.Output)
	})
	return scope
}

// ToResponse converts the state into the wire-level run response.
func (s *RunState) ToResponse() schema.FlowRunResponse {
	tags := s.tags
	if tags == nil {
		tags = []string{}
	}
	resp := schema.FlowRunResponse{
		Status:        s.verdict,
		Steps:         s.steps,
		Duration:      s.duration,
		Tasks:         s.tasks,
		Tags:          tags,
		PauseMetadata: s.response.PauseMetadata,
		StopResponse:  s.response.StopResponse,
	}
	if fs := s.response.FailedStep; fs != nil && s.verdict == schema.RunStatusFailed {
		resp.Error = &schema.RunError{StepName: fs.Name, Message: fs.Message}
	}
	return resp
}
