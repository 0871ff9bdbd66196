package expressions

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowengine/pkg/schema"
)

// GoJQEngine implements Engine with gojq. The data map is the jq input
// document. Programs run sandboxed: $ENV and env are empty.
type GoJQEngine struct {
	programs *programCache[*gojq.Code]
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{programs: newProgramCache(compileJQ)}
}

func compileJQ(source string) (*gojq.Code, error) {
	query, err := gojq.Parse(source)
	if err != nil {
		return nil, expressionError(schema.ErrCodeValidation, "jq parse error in %q: %s", source, err)
	}
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, expressionError(schema.ErrCodeValidation, "jq compile error in %q: %s", source, err)
	}
	return code, nil
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs the jq program over data. A single output is returned as is,
// several outputs are collected into []any, no output yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	code, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	input, _ := jqValue(data).(map[string]any)
	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, failed := v.(error); failed {
			return nil, expressionError(schema.ErrCodeExecution, "jq evaluation failed for %q: %s", expression, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// jqValue rewrites numbers gojq rejects (int64, int32, float32) as float64,
// recursing into maps and slices.
func jqValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = jqValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = jqValue(item)
		}
		return out
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	}
	return v
}

var _ Engine = (*GoJQEngine)(nil)
