package progress

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/rendis/flowengine/internal/engine"
	"github.com/rendis/flowengine/pkg/schema"
)

type coordinator struct {
	mu       sync.Mutex
	bodies   []string
	headers  []http.Header
	paths    []string
	failures int
}

func (c *coordinator) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, string(body))
	c.headers = append(c.headers, r.Header.Clone())
	c.paths = append(c.paths, r.URL.Path)
	if c.failures != 0 {
		if c.failures > 0 {
			c.failures--
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *coordinator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func setup(t *testing.T, c *coordinator) (*Reporter, *engine.RunConstants, *[]time.Duration, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	t.Cleanup(srv.Close)

	var waits []time.Duration
	var logs bytes.Buffer
	r := NewReporter(Config{
		Client: srv.Client(),
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
		Wait: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	})
	handler := "handler-1"
	constants := engine.NewRunConstants(engine.RunConstants{
		RunID:                  "run-1",
		EngineToken:            "secret-token",
		InternalAPIURL:         srv.URL,
		ExecutionCorrelationID: "corr-1",
		ServerHandlerID:        &handler,
		ProgressUpdateType:     schema.ProgressUpdateTestFlow,
	})
	return r, constants, &waits, &logs
}

func runningState() *engine.RunState {
	return engine.EmptyState().UpsertStep("trigger", schema.StepOutput{
		Type:   "EMPTY",
		Status: schema.StepStatusSucceeded,
		Output: map[string]any{"a": 1},
	})
}

func TestSend_PostsUpdate(t *testing.T) {
	c := &coordinator{}
	r, constants, _, _ := setup(t, c)

	require.NoError(t, r.Send(context.Background(), runningState().SetDuration(12), constants))

	require.Equal(t, 1, c.calls())
	assert.Equal(t, "/v1/engine/update-run", c.paths[0])
	assert.Equal(t, "Bearer secret-token", c.headers[0].Get("Authorization"))
	assert.Equal(t, "application/json", c.headers[0].Get("Content-Type"))

	body := c.bodies[0]
	assert.Equal(t, "corr-1", gjson.Get(body, "executionCorrelationId").String())
	assert.Equal(t, "run-1", gjson.Get(body, "runId").String())
	assert.Equal(t, "handler-1", gjson.Get(body, "workerHandlerId").String())
	assert.Equal(t, "TEST_FLOW", gjson.Get(body, "progressUpdateType").String())
	assert.Equal(t, "RUNNING", gjson.Get(body, "runDetails.status").String())
	assert.Equal(t, int64(1), gjson.Get(body, "runDetails.steps.trigger.output.a").Int())
	assert.Equal(t, float64(12), gjson.Get(body, "runDetails.duration").Float())
}

func TestSend_DeduplicatesIgnoringDuration(t *testing.T) {
	c := &coordinator{}
	r, constants, _, _ := setup(t, c)
	ctx := context.Background()

	require.NoError(t, r.Send(ctx, runningState().SetDuration(1), constants))
	require.NoError(t, r.Send(ctx, runningState().SetDuration(99).SetStepDuration("trigger", 5), constants))
	assert.Equal(t, 1, c.calls())

	require.NoError(t, r.Send(ctx, runningState().SetVerdict(schema.RunStatusSucceeded, schema.VerdictResponse{}), constants))
	assert.Equal(t, 2, c.calls())
}

func TestSend_RetriesThreeTimesThenSwallows(t *testing.T) {
	c := &coordinator{failures: -1}
	r, constants, waits, logs := setup(t, c)

	err := r.Send(context.Background(), runningState(), constants)
	require.NoError(t, err)

	assert.Equal(t, 4, c.calls())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 600 * time.Millisecond}, *waits)
	assert.Contains(t, logs.String(), "progress update failed after 3 retries")
	assert.Contains(t, logs.String(), "run_id=run-1")
}

func TestSend_RecoversWithinRetries(t *testing.T) {
	c := &coordinator{failures: 2}
	r, constants, waits, logs := setup(t, c)

	require.NoError(t, r.Send(context.Background(), runningState(), constants))
	assert.Equal(t, 3, c.calls())
	assert.Len(t, *waits, 2)
	assert.NotContains(t, logs.String(), "failed after")
}

func TestSend_RequiresCorrelationID(t *testing.T) {
	c := &coordinator{}
	r, constants, _, _ := setup(t, c)
	constants.ExecutionCorrelationID = ""

	err := r.Send(context.Background(), runningState(), constants)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executionCorrelationId is not defined when sending an update run progress request")
	assert.Equal(t, 0, c.calls())
}

func TestSend_ExpiredDeadlineFailsCaller(t *testing.T) {
	c := &coordinator{}
	r, constants, _, _ := setup(t, c)
	constants.Deadline = engine.Deadline{At: time.Now().Add(-time.Second)}

	err := r.Send(context.Background(), runningState(), constants)
	assert.ErrorIs(t, err, engine.ErrExecutionTimeout)
	assert.Equal(t, 0, c.calls())
}

func TestReporters_AreIndependentPerRun(t *testing.T) {
	c := &coordinator{}
	r1, constants, _, _ := setup(t, c)
	r2 := NewReporter(Config{Client: r1.client})

	require.NoError(t, r1.Send(context.Background(), runningState(), constants))
	require.NoError(t, r2.Send(context.Background(), runningState(), constants))
	assert.Equal(t, 2, c.calls())
}

func TestDiscard(t *testing.T) {
	constants := engine.NewRunConstants(engine.RunConstants{RunID: "run-1"})
	assert.NoError(t, Discard{}.Send(context.Background(), runningState(), constants))

	constants.Deadline = engine.Deadline{At: time.Now().Add(-time.Second)}
	assert.ErrorIs(t, Discard{}.Send(context.Background(), runningState(), constants), engine.ErrExecutionTimeout)
}

func TestHash(t *testing.T) {
	a, err := Hash([]byte(`{"x":1,"duration":5,"nested":{"duration":1,"y":[{"duration":2,"z":true}]}}`))
	require.NoError(t, err)
	b, err := Hash([]byte(`{"nested":{"y":[{"z":true}]},"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c, err := Hash([]byte(`{"x":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = Hash([]byte(`{`))
	assert.Error(t, err)
}

func TestHash_IgnoresStepOrder(t *testing.T) {
	a, err := Hash([]byte(`{"steps":{"step_1":{"output":1},"step_2":{"output":2}}}`))
	require.NoError(t, err)
	b, err := Hash([]byte(`{"steps":{"step_2":{"output":2},"step_1":{"output":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
