package engine

import (
	"context"

	"github.com/rendis/flowengine/pkg/schema"
)

// StepRequest is what a StepRunner receives for one Code or Block step.
type StepRequest struct {
	Action         *schema.Action
	Input          any
	RetryOnFailure bool
	Resuming       bool
	ResumePayload  any
	RunID          string
	ProjectID      string
}

// StopRequest asks the interpreter to end the run early with a response.
type StopRequest struct {
	Response any
}

// StepResult is the outcome of a step body. At most one of Pause and Stop
// is set.
type StepResult struct {
	Output any
	Pause  *schema.PauseMetadata
	Stop   *StopRequest
}

// StepRunner executes step bodies. Implementations live outside the
// interpreter (see runners.Local).
type StepRunner interface {
	RunCode(ctx context.Context, req StepRequest) (StepResult, error)
	RunBlock(ctx context.Context, req StepRequest) (StepResult, error)
}
