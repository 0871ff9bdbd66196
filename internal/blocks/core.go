package blocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/flowengine/pkg/schema"
)

// CoreBlock is the name of the flow-control block.
const CoreBlock = "@flowengine/block-core"

// MaxDelay bounds how far a delay step may push a run.
const MaxDelay = 30 * 24 * time.Hour

const delayInputSchema = `{
  "type": "object",
  "properties": {
    "delayFor": {"type": "number", "minimum": 0},
    "unit": {"type": "string", "enum": ["SECONDS","MINUTES","HOURS","DAYS"]},
    "delayUntil": {"type": "string", "format": "date-time"}
  },
  "oneOf": [
    {"required": ["delayFor"]},
    {"required": ["delayUntil"]}
  ]
}`

const stopInputSchema = `{
  "type": "object",
  "properties": {
    "response": {}
  }
}`

// CoreActions returns the actions of the core block. now defaults to time.Now.
func CoreActions(now func() time.Time) []Action {
	if now == nil {
		now = time.Now
	}
	return []Action{&delayAction{now: now}, &stopAction{}}
}

// --- delay ---

type delayAction struct {
	now func() time.Time
}

func (a *delayAction) Name() string { return "delay" }

func (a *delayAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Pause the run until a point in time; the coordinator resumes it",
		InputSchema: json.RawMessage(delayInputSchema),
	}
}

func (a *delayAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	if input.Resuming {
		return jsonOutput("delay", map[string]any{"success": true})
	}

	now := a.now().UTC()
	var until time.Time
	if raw := stringParam(input.Params, "delayUntil", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: invalid delayUntil %q", raw)
		}
		until = t.UTC()
	} else {
		unit, err := delayUnit(stringParam(input.Params, "unit", "SECONDS"))
		if err != nil {
			return nil, err
		}
		until = now.Add(time.Duration(floatParam(input.Params, "delayFor", 0) * float64(unit)))
	}

	if until.Sub(now) > MaxDelay {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: cannot delay more than %d days", int(MaxDelay.Hours()/24))
	}

	out, err := jsonOutput("delay", map[string]any{"resumeDateTime": until.Format(time.RFC3339)})
	if err != nil {
		return nil, err
	}
	out.Pause = &schema.PauseMetadata{
		Type:           schema.PauseTypeDelay,
		ResumeDateTime: until.Format(time.RFC3339),
	}
	return out, nil
}

func delayUnit(unit string) (time.Duration, error) {
	switch unit {
	case "SECONDS":
		return time.Second, nil
	case "MINUTES":
		return time.Minute, nil
	case "HOURS":
		return time.Hour, nil
	case "DAYS":
		return 24 * time.Hour, nil
	}
	return 0, schema.NewErrorf(schema.ErrCodeValidation, "delay: unknown unit %q", unit)
}

// --- stop ---

type stopAction struct{}

func (a *stopAction) Name() string { return "stop" }

func (a *stopAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Stop the run successfully, returning response to the caller",
		InputSchema: json.RawMessage(stopInputSchema),
	}
}

func (a *stopAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	response := input.Params["response"]
	out, err := jsonOutput("stop", map[string]any{"response": response})
	if err != nil {
		return nil, err
	}
	out.Stop = &StopRequest{Response: response}
	return out, nil
}
