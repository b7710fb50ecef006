package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang expressions. The data map is the environment,
// so variables, outputs, inputs and workflow are top-level names; undefined
// names evaluate to nil instead of failing compilation.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program](DefaultCacheSize)}
}

func (e *ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpr(e.Name())
	}
	if data == nil {
		data = map[string]any{}
	}
	prg, err := e.cache.getOrCompile(expression, func() (*vm.Program, error) {
		p, err := expr.Compile(expression, expr.Env(data), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, exprError(e.Name(), "compile", expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, exprError(e.Name(), "eval", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
