package expressions

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

var (
	nativeList = reflect.TypeOf([]any{})
	nativeMap  = reflect.TypeOf(map[string]any{})
)

// celScopes are the top-level CEL variables, each a map(string, dyn).
var celScopes = []string{KeyVariables, KeyOutputs, KeyInputs, KeyWorkflow}

// CELEngine evaluates CEL guards: If conditions, flow decisions, switch cases.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

func NewCELEngine() (*CELEngine, error) {
	opts := make([]cel.EnvOption, 0, len(celScopes))
	for _, k := range celScopes {
		opts = append(opts, cel.Variable(k, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program](DefaultCacheSize)}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate returns lists and maps as []any and map[string]any.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpr(e.Name())
	}
	prg, err := e.cache.getOrCompile(expression, func() (cel.Program, error) {
		ast, iss := e.env.Compile(expression)
		if err := iss.Err(); err != nil {
			return nil, exprError(e.Name(), "compile", expression, err)
		}
		p, err := e.env.Program(ast)
		if err != nil {
			return nil, exprError(e.Name(), "program", expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	// Absent scopes bind to empty maps so lookups fail as missing keys, not nil refs.
	vars := make(map[string]any, len(celScopes))
	for _, k := range celScopes {
		if v := data[k]; v != nil {
			vars[k] = v
		} else {
			vars[k] = map[string]any{}
		}
	}
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return nil, exprError(e.Name(), "eval", expression, err)
	}
	switch out.Type() {
	case types.ListType:
		return out.ConvertToNative(nativeList)
	case types.MapType:
		return out.ConvertToNative(nativeMap)
	}
	return out.Value(), nil
}

var _ Engine = (*CELEngine)(nil)
