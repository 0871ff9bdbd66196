package worker

import (
	"encoding/json"

	"github.com/rendis/flowengine/pkg/schema"
)

// BeginRunRequest starts a run of FlowVersion from its trigger.
// TimeoutSeconds falls back to the worker default when zero.
// DeadlineTimestamp (unix ms) takes precedence over TimeoutSeconds.
type BeginRunRequest struct {
	FlowVersion            schema.FlowVersion        `json:"flowVersion"`
	RunID                  string                    `json:"runId"`
	ProjectID              string                    `json:"projectId"`
	ServerHandlerID        *string                   `json:"serverHandlerId"`
	TriggerPayload         any                       `json:"triggerPayload"`
	ExecutionCorrelationID string                    `json:"executionCorrelationId"`
	ProgressUpdateType     schema.ProgressUpdateType `json:"progressUpdateType"`
	ExecutionType          schema.ExecutionType      `json:"executionType,omitempty"`
	EngineToken            string                    `json:"engineToken"`
	InternalAPIURL         string                    `json:"internalApiUrl"`
	PublicURL              string                    `json:"publicUrl"`
	TimeoutSeconds         int                       `json:"timeoutSeconds,omitempty"`
	DeadlineTimestamp      int64                     `json:"deadlineTimestamp,omitempty"`
}

// ResumeRunRequest re-enters a paused run. CapturedSteps and Tasks are the
// step map and task count the run had when it paused.
type ResumeRunRequest struct {
	BeginRunRequest
	CapturedSteps schema.StepMap `json:"capturedSteps"`
	Tasks         int            `json:"tasks"`
	ResumePayload any            `json:"resumePayload"`
}

// executionTypeOf reads the executionType of an EXECUTE_FLOW payload.
func executionTypeOf(input json.RawMessage) schema.ExecutionType {
	var probe struct {
		ExecutionType schema.ExecutionType `json:"executionType"`
	}
	if json.Unmarshal(input, &probe) != nil || probe.ExecutionType == "" {
		return schema.ExecutionTypeBegin
	}
	return probe.ExecutionType
}
