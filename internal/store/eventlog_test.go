package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowengine/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_Record_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s, "project-1")

	for i := 0; i < 5; i++ {
		e, err := el.Record(ctx, run.ID, EventRunResumed, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
		assert.Nil(t, e.Payload)
	}
}

func TestEventLog_Record_Payload(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s, "project-1")

	_, err := el.Record(ctx, run.ID, EventRunPaused, map[string]any{"type": "DELAY"})
	require.NoError(t, err)

	events, err := el.GetEvents(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"type":"DELAY"}`, string(events[0].Payload))
}

func TestEventLog_Record_UnmarshalablePayload(t *testing.T) {
	el, s := newTestEventLog(t)
	run := seedRun(t, s, "project-1")

	_, err := el.Record(context.Background(), run.ID, EventRunStarted, map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestEventLog_Replay_FullLifecycle(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s, "project-1")

	for _, et := range []string{EventRunStarted, EventRunPaused, EventRunResumed} {
		_, err := el.Record(ctx, run.ID, et, nil)
		require.NoError(t, err)
	}
	_, err := el.Record(ctx, run.ID, EventRunFinished, map[string]any{"status": "STOPPED"})
	require.NoError(t, err)
	_, err = el.Record(ctx, run.ID, EventResumeNoop, nil)
	require.NoError(t, err)

	h, err := el.Replay(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusStopped, h.Status)
	assert.Equal(t, 1, h.Starts)
	assert.Equal(t, 1, h.Resumes)
	assert.Equal(t, 1, h.Ignored)
	require.NotNil(t, h.Last)
	assert.Equal(t, EventResumeNoop, h.Last.Type)
}

func TestEventLog_Replay_TerminalStatuses(t *testing.T) {
	tests := []struct {
		event string
		want  schema.FlowRunStatus
	}{
		{EventRunFinished, schema.RunStatusSucceeded},
		{EventRunFailed, schema.RunStatusFailed},
		{EventRunTimedOut, schema.RunStatusTimeout},
		{EventRunCrashed, schema.RunStatusInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			el, s := newTestEventLog(t)
			ctx := context.Background()
			run := seedRun(t, s, "project-1")

			_, err := el.Record(ctx, run.ID, EventRunStarted, nil)
			require.NoError(t, err)
			_, err = el.Record(ctx, run.ID, tt.event, nil)
			require.NoError(t, err)

			h, err := el.Replay(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Status)
		})
	}
}

func TestEventLog_Replay_EmptyRun(t *testing.T) {
	el, s := newTestEventLog(t)
	run := seedRun(t, s, "project-1")

	h, err := el.Replay(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, h.Status)
	assert.Nil(t, h.Last)
}

func TestEventLog_Replay_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s, "project-1")

	// Manually insert events with a gap using the raw store.
	db := s.DB()
	_, err := db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, timestamp, sequence) VALUES (?, 'run_started', CURRENT_TIMESTAMP, 1)`,
		run.ID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, timestamp, sequence) VALUES (?, 'run_finished', CURRENT_TIMESTAMP, 3)`,
		run.ID)
	require.NoError(t, err)

	_, err = el.Replay(ctx, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}

func TestEventLog_ConcurrentRecord_DifferentRuns(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	var runs []*Run
	for i := 0; i < 5; i++ {
		runs = append(runs, seedRun(t, s, "project-1"))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)

	for _, run := range runs {
		wg.Go(func() {
			for j := 0; j < 10; j++ {
				if _, err := el.Record(ctx, run.ID, EventRunResumed, nil); err != nil {
					errCh <- err
					return
				}
			}
		})
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent record error: %v", err)
	}

	for _, run := range runs {
		events, err := el.GetEvents(ctx, run.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestEventLog_RunScopedSequences(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	run1 := seedRun(t, s, "project-1")
	run2 := seedRun(t, s, "project-1")

	_, err := el.Record(ctx, run1.ID, EventRunStarted, nil)
	require.NoError(t, err)
	_, err = el.Record(ctx, run1.ID, EventRunFinished, nil)
	require.NoError(t, err)

	e, err := el.Record(ctx, run2.ID, EventRunStarted, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Sequence, "run2 should have its own sequence starting at 1")
}
