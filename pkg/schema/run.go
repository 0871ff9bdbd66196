package schema

import "encoding/json"

// FlowRunStatus is the externally visible status of a run. The first five
// values mirror the interpreter's verdicts; the rest are assigned by callers.
type FlowRunStatus string

const (
	RunStatusRunning       FlowRunStatus = "RUNNING"
	RunStatusSucceeded     FlowRunStatus = "SUCCEEDED"
	RunStatusFailed        FlowRunStatus = "FAILED"
	RunStatusPaused        FlowRunStatus = "PAUSED"
	RunStatusStopped       FlowRunStatus = "STOPPED"
	RunStatusTimeout       FlowRunStatus = "TIMEOUT"
	RunStatusInternalError FlowRunStatus = "INTERNAL_ERROR"
	RunStatusScheduled     FlowRunStatus = "SCHEDULED"
	RunStatusIgnored       FlowRunStatus = "IGNORED"
)

// IsTerminal reports whether no further execution can happen for the run.
func (s FlowRunStatus) IsTerminal() bool {
	switch s {
	case RunStatusRunning, RunStatusPaused, RunStatusScheduled:
		return false
	}
	return true
}

// PauseType tells the coordinator how a paused run is re-entered.
type PauseType string

const (
	PauseTypeDelay   PauseType = "DELAY"
	PauseTypeWebhook PauseType = "WEBHOOK"
)

// PauseMetadata is what a paused run carries instead of an error.
type PauseMetadata struct {
	Type           PauseType `json:"type"`
	ResumeDateTime string    `json:"resumeDateTime,omitempty"`
	RequestID      string    `json:"requestId,omitempty"`
	Response       any       `json:"response,omitempty"`
}

// FailedStep identifies the step that failed a run.
type FailedStep struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Message     string `json:"message"`
}

// VerdictResponse is the payload attached to a non-RUNNING verdict.
type VerdictResponse struct {
	FailedStep    *FailedStep    `json:"failedStep,omitempty"`
	PauseMetadata *PauseMetadata `json:"pauseMetadata,omitempty"`
	StopResponse  any            `json:"stopResponse,omitempty"`
}

// RunError is the error payload of FAILED, TIMEOUT and INTERNAL_ERROR runs.
type RunError struct {
	StepName string `json:"stepName,omitempty"`
	Message  string `json:"message"`
}

// FlowRunResponse is the wire-level result of a run. Duration is in
// milliseconds.
type FlowRunResponse struct {
	Status        FlowRunStatus  `json:"status"`
	Steps         StepMap        `json:"steps"`
	Duration      float64        `json:"duration"`
	Tasks         int            `json:"tasks"`
	Tags          []string       `json:"tags"`
	Error         *RunError      `json:"error,omitempty"`
	PauseMetadata *PauseMetadata `json:"pauseMetadata,omitempty"`
	StopResponse  any            `json:"stopResponse,omitempty"`
}

// ProgressUpdateType tells the coordinator what to do with intermediate
// updates.
type ProgressUpdateType string

const (
	ProgressUpdateNone            ProgressUpdateType = "NONE"
	ProgressUpdateWebhookResponse ProgressUpdateType = "WEBHOOK_RESPONSE"
	ProgressUpdateTestFlow        ProgressUpdateType = "TEST_FLOW"
)

// UpdateRunProgressRequest is the body POSTed to the coordinator.
type UpdateRunProgressRequest struct {
	ExecutionCorrelationID string             `json:"executionCorrelationId"`
	RunID                  string             `json:"runId"`
	WorkerHandlerID        *string            `json:"workerHandlerId"`
	RunDetails             FlowRunResponse    `json:"runDetails"`
	ProgressUpdateType     ProgressUpdateType `json:"progressUpdateType"`
}

// ResolveVariableRequest asks for a dry-run resolution of an expression as it
// would be seen by StepName.
type ResolveVariableRequest struct {
	ProjectID          string            `json:"projectId"`
	EngineToken        string            `json:"engineToken"`
	InternalAPIURL     string            `json:"internalApiUrl"`
	PublicURL          string            `json:"publicUrl"`
	FlowVersion        FlowVersion       `json:"flowVersion"`
	StepName           string            `json:"stepName"`
	VariableExpression string            `json:"variableExpression"`
	StepTestOutputs    map[string]string `json:"stepTestOutputs,omitempty"`
}

// ResolveVariableResponse never carries a Go error: failures are reported
// through Success and Error.
type ResolveVariableResponse struct {
	Success       bool   `json:"success"`
	ResolvedValue any    `json:"resolvedValue"`
	CensoredValue any    `json:"censoredValue"`
	Error         string `json:"error,omitempty"`
}

// OperationType selects what an engine request does.
type OperationType string

const (
	OperationExecuteFlow     OperationType = "EXECUTE_FLOW"
	OperationResolveVariable OperationType = "RESOLVE_VARIABLE"
)

// ExecutionType distinguishes a fresh run from a resumed one.
type ExecutionType string

const (
	ExecutionTypeBegin  ExecutionType = "BEGIN"
	ExecutionTypeResume ExecutionType = "RESUME"
)

// EngineRequest is the envelope accepted by the HTTP and MCP surfaces.
// EngineInput is decoded according to OperationType. DeadlineTimestamp is a
// unix time in milliseconds; zero means no deadline.
type EngineRequest struct {
	OperationType     OperationType   `json:"operationType"`
	EngineInput       json.RawMessage `json:"engineInput"`
	DeadlineTimestamp int64           `json:"deadlineTimestamp,omitempty"`
}
