package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowengine/pkg/schema"
)

func TestNewEngines(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	for _, name := range []string{"expr", "jq", "cel"} {
		e, ok := engines[name]
		require.True(t, ok, name)
		assert.Equal(t, name, e.Name())
	}
}

func TestEngines_EchoInputs(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)
	data := map[string]any{"inputs": map[string]any{"a": float64(1)}}

	tests := []struct {
		engine string
		expr   string
	}{
		{"expr", "inputs"},
		{"jq", ".inputs"},
		{"cel", "inputs"},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			out, err := engines[tt.engine].Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": float64(1)}, out)
		})
	}
}

func TestExpr_EvaluateAgainstMaps(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"order": map[string]any{"items": []any{float64(2), float64(3)}, "status": "open"},
	}

	out, err := e.Evaluate(context.Background(), `sum(order.items) * 2`, data)
	require.NoError(t, err)
	assert.Equal(t, float64(10), out)

	out, err = e.Evaluate(context.Background(), `order.status == "open" ? "yes" : "no"`, data)
	require.NoError(t, err)
	assert.Equal(t, "yes", out)

	out, err = e.Evaluate(context.Background(), `undefinedVar ?? "fallback"`, data)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assertCode(t, err, schema.ErrCodeValidation)

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	assertCode(t, err, schema.ErrCodeValidation)

	_, err = e.Evaluate(context.Background(), `int(s)`, map[string]any{"s": "abc"})
	assertCode(t, err, schema.ErrCodeExecution)
}

func TestExpr_ConcurrentCache(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "x + 1", map[string]any{"x": n})
			assert.NoError(t, err)
			assert.Equal(t, n+1, out)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, e.programs.size())
}

func TestCEL_MissingVariablesBindToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine("inputs")
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(inputs) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `inputs.n * 2.0`, map[string]any{"inputs": map[string]any{"n": 2.5}})
	require.NoError(t, err)
	assert.Equal(t, float64(5), out)
}

func TestCEL_Errors(t *testing.T) {
	_, err := NewCELEngine()
	assertCode(t, err, schema.ErrCodeValidation)

	e, err := NewCELEngine("inputs")
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "inputs.", nil)
	assertCode(t, err, schema.ErrCodeValidation)

	_, err = e.Evaluate(context.Background(), "inputs.missing", nil)
	assertCode(t, err, schema.ErrCodeExecution)
}

func TestGoJQ_MultipleOutputsAndNormalisation(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{int64(1), int64(2), int64(3)}}

	out, err := e.Evaluate(context.Background(), ".items[] | select(. > 1)", data)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(2), float64(3)}, out)

	out, err = e.Evaluate(context.Background(), "empty", data)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = e.Evaluate(context.Background(), "$ENV | length", data)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[", nil)
	assertCode(t, err, schema.ErrCodeValidation)

	_, err = e.Evaluate(context.Background(), `error("boom")`, nil)
	assertCode(t, err, schema.ErrCodeExecution)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok, "expected *schema.EngineError, got %T", err)
	assert.Equal(t, code, engErr.Code)
}
