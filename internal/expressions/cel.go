package expressions

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rendis/flowengine/pkg/schema"
)

// CELEngine implements Engine with Google's Common Expression Language.
// Each declared variable is a map(string, dyn); variables missing from the
// data are bound to empty maps so expressions never hit unbound references.
type CELEngine struct {
	env      *cel.Env
	vars     []string
	programs *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine declaring the given top-level variables.
func NewCELEngine(vars ...string) (*CELEngine, error) {
	if len(vars) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "CEL engine needs at least one variable")
	}
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	e := &CELEngine{env: env, vars: vars}
	e.programs = newProgramCache(e.compile)
	return e, nil
}

func (e *CELEngine) compile(source string) (cel.Program, error) {
	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, expressionError(schema.ErrCodeValidation, "CEL compile error in %q: %s", source, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, expressionError(schema.ErrCodeValidation, "CEL program error for %q: %s", source, err)
	}
	return prg, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs the expression with each declared variable bound from data.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, e.activation(data))
	if err != nil {
		return nil, expressionError(schema.ErrCodeExecution, "CEL evaluation failed for %q: %s", expression, err)
	}

	// Results cross the JSON boundary, so convert through structpb.Value:
	// numbers become float64, maps map[string]any, lists []any.
	native, err := out.ConvertToNative(jsonValueType)
	if err != nil {
		return out.Value(), nil
	}
	return native.(*structpb.Value).AsInterface(), nil
}

var jsonValueType = reflect.TypeOf(&structpb.Value{})

func (e *CELEngine) activation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(e.vars))
	for _, key := range e.vars {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
