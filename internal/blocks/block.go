package blocks

import (
	"context"
	"encoding/json"

	"github.com/rendis/flowengine/pkg/schema"
)

// Action is one executable action of a block. Block steps address it as
// blockName + actionName.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
}

// ActionSchema describes the input contract of an action. InputSchema is
// enforced by the registry before Execute.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time.
// Resuming is set when the run re-enters a step that paused earlier;
// ResumePayload then carries what the coordinator delivered.
type ActionInput struct {
	Params        map[string]any `json:"params"`
	RunID         string         `json:"run_id,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
	Resuming      bool           `json:"resuming,omitempty"`
	ResumePayload any            `json:"resume_payload,omitempty"`
}

// ActionOutput is the result of an action execution. At most one of Pause
// and Stop is set; Data is then the step output recorded alongside.
type ActionOutput struct {
	Data  json.RawMessage       `json:"data,omitempty"`
	Pause *schema.PauseMetadata `json:"pause,omitempty"`
	Stop  *StopRequest          `json:"stop,omitempty"`
}

// StopRequest ends the run with Response as the stop response.
type StopRequest struct {
	Response any `json:"response,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Block       string `json:"block"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// InputValidator checks params against a JSON Schema.
type InputValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
}

func jsonOutput(name string, v any) (*ActionOutput, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: failed to marshal output", name).WithCause(err)
	}
	return &ActionOutput{Data: data}, nil
}
