package blocks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowengine/pkg/schema"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func coreRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := newTestRegistry(t)
	_, err := reg.RegisterBlock(CoreBlock, CoreActions(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return reg
}

func TestDelay_For(t *testing.T) {
	reg := coreRegistry(t)

	tests := []struct {
		params map[string]any
		want   string
	}{
		{map[string]any{"delayFor": 30}, "2026-03-01T12:00:30Z"},
		{map[string]any{"delayFor": 2, "unit": "HOURS"}, "2026-03-01T14:00:00Z"},
		{map[string]any{"delayFor": 1.5, "unit": "DAYS"}, "2026-03-03T00:00:00Z"},
	}
	for _, tt := range tests {
		out, err := reg.Execute(context.Background(), CoreBlock, "delay", ActionInput{Params: tt.params})
		require.NoError(t, err)
		require.NotNil(t, out.Pause)
		assert.Equal(t, schema.PauseTypeDelay, out.Pause.Type)
		assert.Equal(t, tt.want, out.Pause.ResumeDateTime)
		assert.Nil(t, out.Stop)
		assert.JSONEq(t, `{"resumeDateTime":"`+tt.want+`"}`, string(out.Data))
	}
}

func TestDelay_Until(t *testing.T) {
	reg := coreRegistry(t)
	out, err := reg.Execute(context.Background(), CoreBlock, "delay", ActionInput{
		Params: map[string]any{"delayUntil": "2026-03-02T08:30:00+02:00"},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Pause)
	assert.Equal(t, "2026-03-02T06:30:00Z", out.Pause.ResumeDateTime)
}

func TestDelay_TooLong(t *testing.T) {
	reg := coreRegistry(t)
	_, err := reg.Execute(context.Background(), CoreBlock, "delay", ActionInput{
		Params: map[string]any{"delayFor": 31, "unit": "DAYS"},
	})
	requireCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, err.Error(), "30 days")
}

func TestDelay_InvalidInput(t *testing.T) {
	reg := coreRegistry(t)
	for _, params := range []map[string]any{
		{},
		{"delayFor": 1, "delayUntil": "2026-03-02T00:00:00Z"},
		{"delayFor": 1, "unit": "WEEKS"},
		{"delayFor": -1},
	} {
		_, err := reg.Execute(context.Background(), CoreBlock, "delay", ActionInput{Params: params})
		requireCode(t, err, schema.ErrCodeValidation)
	}
}

func TestDelay_Resuming(t *testing.T) {
	reg := coreRegistry(t)
	out, err := reg.Execute(context.Background(), CoreBlock, "delay", ActionInput{
		Params:   map[string]any{"delayFor": 30},
		Resuming: true,
	})
	require.NoError(t, err)
	assert.Nil(t, out.Pause)
	assert.JSONEq(t, `{"success":true}`, string(out.Data))
}

func TestStop(t *testing.T) {
	reg := coreRegistry(t)
	out, err := reg.Execute(context.Background(), CoreBlock, "stop", ActionInput{
		Params: map[string]any{"response": map[string]any{"status": 202}},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Stop)
	assert.Equal(t, map[string]any{"status": 202}, out.Stop.Response)
	assert.Nil(t, out.Pause)

	var data map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &data))
	assert.Equal(t, map[string]any{"response": map[string]any{"status": float64(202)}}, data)
}
