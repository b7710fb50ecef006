package expressions

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rendis/waypoint/pkg/schema"
)

// Engine evaluates computed input bindings.
// Implementations: CEL (conditions), Expr (logic), GoJQ (transforms) and
// Template (string interpolation with secrets).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Data keys exposed to every engine.
const (
	KeyVariables = "variables"
	KeyOutputs   = "outputs"
	KeyInputs    = "inputs"
	KeyWorkflow  = "workflow"
)

// DefaultCacheSize bounds each engine's compiled-program cache.
const DefaultCacheSize = 512

// Evaluator dispatches expressions to the engine registered for their language.
type Evaluator struct {
	engines map[string]Engine
}

// NewEvaluator creates an Evaluator over the given engines, keyed by Name().
func NewEvaluator(engines ...Engine) *Evaluator {
	ev := &Evaluator{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		ev.engines[e.Name()] = e
	}
	return ev
}

// NewDefaultEvaluator registers the cel, expr, jq and template engines.
// Engines in overrides replace the default with the same name.
func NewDefaultEvaluator(overrides ...Engine) (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	engines := []Engine{celEngine, NewExprEngine(), NewGoJQEngine(), NewTemplateEngine(nil)}
	return NewEvaluator(append(engines, overrides...)...), nil
}

// exprError reports a failed stage (parse, compile, eval) of one expression.
func exprError(lang, stage, expression string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeBinding, "%s %s %q: %s", lang, stage, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"language": lang, "expression": expression})
}

func emptyExpr(lang string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeBinding, "empty %s expression", lang)
}

// Evaluate runs source with the engine registered for language.
func (ev *Evaluator) Evaluate(ctx context.Context, language, source string, data map[string]any) (any, error) {
	e, ok := ev.engines[language]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeBinding, "unknown expression language %q", language).
			WithDetails(map[string]any{"languages": ev.Languages()})
	}
	return e.Evaluate(ctx, source, data)
}

// Languages returns the registered language names, sorted.
func (ev *Evaluator) Languages() []string {
	out := make([]string, 0, len(ev.engines))
	for name := range ev.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// programCache is a bounded, concurrency-safe cache of compiled programs.
type programCache[T any] struct {
	cache *lru.Cache[string, T]
}

func newProgramCache[T any](size int) *programCache[T] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, T](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(fmt.Sprintf("expressions: %v", err))
	}
	return &programCache[T]{cache: c}
}

// getOrCompile returns the cached program for key or compiles and stores it.
// Concurrent misses may compile twice; the last one wins, which is harmless.
func (c *programCache[T]) getOrCompile(key string, compile func() (T, error)) (T, error) {
	if prg, ok := c.cache.Get(key); ok {
		return prg, nil
	}
	prg, err := compile()
	if err != nil {
		var zero T
		return zero, err
	}
	c.cache.Add(key, prg)
	return prg, nil
}

func (c *programCache[T]) len() int {
	return c.cache.Len()
}
