package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/flowengine/pkg/schema"
)

// ExprEngine implements Engine with expr-lang/expr. Programs are compiled
// without a typed environment so one cached program serves every scope
// shape; unknown identifiers evaluate to nil.
type ExprEngine struct {
	programs *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newProgramCache(compileExpr)}
}

func compileExpr(source string) (*vm.Program, error) {
	prg, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, expressionError(schema.ErrCodeValidation, "expr compile error in %q: %s", source, err)
	}
	return prg, nil
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs the expression with data as the environment: every key of
// data is a top-level variable.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, expressionError(schema.ErrCodeExecution, "expr evaluation failed for %q: %s", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
