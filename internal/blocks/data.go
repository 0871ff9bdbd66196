package blocks

import (
	"context"
	"encoding/json"

	"github.com/rendis/flowengine/internal/expressions"
	"github.com/rendis/flowengine/pkg/schema"
)

// DataBlock is the name of the data transformation block.
const DataBlock = "@flowengine/block-data"

const jqTransformInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "data": {"type": "object"}
  },
  "required": ["query", "data"]
}`

const exprEvalInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "data": {}
  },
  "required": ["expression"]
}`

// DataActions returns the actions of the data block.
func DataActions() []Action {
	return []Action{
		&jqTransformAction{engine: expressions.NewGoJQEngine()},
		&exprEvalAction{engine: expressions.NewExprEngine()},
	}
}

// --- jq_transform ---

type jqTransformAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqTransformAction) Name() string { return "jq_transform" }

func (a *jqTransformAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Run a jq query over an object and return {result}",
		InputSchema: json.RawMessage(jqTransformInputSchema),
	}
}

func (a *jqTransformAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	query := stringParam(input.Params, "query", "")
	data, ok := input.Params["data"].(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq_transform: 'data' must be an object")
	}

	result, err := a.engine.Evaluate(ctx, query, data)
	if err != nil {
		return nil, err
	}
	return jsonOutput("jq_transform", map[string]any{"result": result})
}

// --- expr_eval ---

type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr_eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate an expr expression with the given data bound as `data`",
		InputSchema: json.RawMessage(exprEvalInputSchema),
	}
}

func (a *exprEvalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	expression := stringParam(input.Params, "expression", "")

	scope := map[string]any{"data": input.Params["data"]}
	result, err := a.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}
	return jsonOutput("expr_eval", map[string]any{"result": result})
}
