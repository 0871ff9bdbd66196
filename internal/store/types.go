package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowengine/pkg/schema"
)

// Run is a persisted flow run.
type Run struct {
	ID            string                  `json:"id"`
	ProjectID     string                  `json:"project_id"`
	FlowID        string                  `json:"flow_id,omitempty"`
	FlowVersionID string                  `json:"flow_version_id,omitempty"`
	Status        schema.FlowRunStatus    `json:"status"`
	FlowVersion   json.RawMessage         `json:"flow_version,omitempty"`
	Response      *schema.FlowRunResponse `json:"response,omitempty"`
	Error         string                  `json:"error,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	FinishedAt    *time.Time              `json:"finished_at,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// RunUpdate holds the fields to change on a run. Nil fields are kept.
type RunUpdate struct {
	Status     *schema.FlowRunStatus
	Response   *schema.FlowRunResponse
	Error      *string
	FinishedAt *time.Time
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	ProjectID string
	Status    *schema.FlowRunStatus
	Since     *time.Time
	Limit     int
	Offset    int
}

// Run event types.
const (
	EventRunStarted  = "run_started"
	EventRunResumed  = "run_resumed"
	EventRunPaused   = "run_paused"
	EventRunFinished = "run_finished"
	EventRunFailed   = "run_failed"
	EventRunTimedOut = "run_timed_out"
	EventRunCrashed  = "run_internal_error"
	EventResumeNoop  = "resume_ignored"
)

// RunEvent is one entry of a run's append-only lifecycle log. Sequence is
// assigned on append and increases by one per run.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"event_type"`
	StepName  string          `json:"step_name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	RunID string
	Since *time.Time
	Limit int
}
