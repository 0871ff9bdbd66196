package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/flowengine/pkg/schema"
)

// EventLog records and replays the lifecycle of runs on top of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide run lifecycle operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Record appends an event for runID. payload is marshalled to JSON when not nil.
func (el *EventLog) Record(ctx context.Context, runID, eventType string, payload any) (*RunEvent, error) {
	event := &RunEvent{RunID: runID, Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		event.Payload = data
	}
	if err := el.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// RunHistory is the lifecycle of a run reconstructed from its events.
type RunHistory struct {
	RunID   string
	Status  schema.FlowRunStatus
	Starts  int
	Resumes int
	Ignored int
	Last    *RunEvent
}

// Replay rebuilds the history of a run from its event log.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, runID string) (*RunHistory, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	h := &RunHistory{RunID: runID}
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}

		switch e.Type {
		case EventRunStarted:
			h.Starts++
			h.Status = schema.RunStatusRunning
		case EventRunResumed:
			h.Resumes++
			h.Status = schema.RunStatusRunning
		case EventRunPaused:
			h.Status = schema.RunStatusPaused
		case EventRunFinished:
			h.Status = finishedStatus(e.Payload)
		case EventRunFailed:
			h.Status = schema.RunStatusFailed
		case EventRunTimedOut:
			h.Status = schema.RunStatusTimeout
		case EventRunCrashed:
			h.Status = schema.RunStatusInternalError
		case EventResumeNoop:
			h.Ignored++
		}
		h.Last = e
	}
	return h, nil
}

// finishedStatus reads the status of a run_finished payload, which carries
// the run response. SUCCEEDED and STOPPED both finish a run.
func finishedStatus(payload json.RawMessage) schema.FlowRunStatus {
	var body struct {
		Status schema.FlowRunStatus `json:"status"`
	}
	if len(payload) > 0 && json.Unmarshal(payload, &body) == nil && body.Status != "" {
		return body.Status
	}
	return schema.RunStatusSucceeded
}
