package expressions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/waypoint/internal/secrets"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// KeySecrets is the namespace resolved through the Vault.
const KeySecrets = "secrets"

// TemplateEngine resolves ${{ namespace.path }} references inside a string.
// A source that is exactly one reference yields the referenced value with
// its type intact; anything else yields a string with each reference
// rendered inline. Secrets are resolved in a second pass so a value read
// from variables or outputs can never smuggle in a secret reference.
type TemplateEngine struct {
	vault secrets.Vault
}

// NewTemplateEngine creates a template engine. vault may be nil, in which
// case any secrets.* reference fails.
func NewTemplateEngine(vault secrets.Vault) *TemplateEngine {
	return &TemplateEngine{vault: vault}
}

// Name returns the engine identifier.
func (e *TemplateEngine) Name() string {
	return "template"
}

// Evaluate renders source against data.
func (e *TemplateEngine) Evaluate(ctx context.Context, source string, data map[string]any) (any, error) {
	if ref, ok := singleReference(source); ok {
		return e.resolve(ctx, ref, data)
	}
	out, err := e.render(ctx, source, data, false)
	if err != nil {
		return nil, err
	}
	return e.render(ctx, out, data, true)
}

// singleReference reports whether source is one ${{ }} token and nothing else.
func singleReference(source string) (string, bool) {
	s := strings.TrimSpace(source)
	if !strings.HasPrefix(s, "${{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[3 : len(s)-2]
	if strings.Contains(inner, "${{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// render replaces every reference in input. secretPass selects which
// references are resolved; the others are copied through untouched.
func (e *TemplateEngine) render(ctx context.Context, input string, data map[string]any, secretPass bool) (string, error) {
	var b strings.Builder
	b.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			b.WriteString(input[i:])
			break
		}
		b.WriteString(input[i : i+idx])
		start := i + idx + 3

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeBinding, "unclosed ${{ reference").
				WithDetails(map[string]any{"expression": input})
		}
		end += start
		ref := strings.TrimSpace(input[start:end])
		token := input[i+idx : end+2]
		i = end + 2

		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeBinding, "nested ${{ references are not allowed").
				WithDetails(map[string]any{"expression": input})
		}
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeBinding, "empty ${{ }} reference")
		}
		if isSecretRef(ref) != secretPass {
			b.WriteString(token)
			continue
		}
		val, err := e.resolve(ctx, ref, data)
		if err != nil {
			return "", err
		}
		b.WriteString(inline(val))
	}
	return b.String(), nil
}

func isSecretRef(ref string) bool {
	return strings.HasPrefix(ref, KeySecrets+".")
}

func (e *TemplateEngine) resolve(ctx context.Context, ref string, data map[string]any) (any, error) {
	namespace, path, _ := strings.Cut(ref, ".")
	switch namespace {
	case KeySecrets:
		return e.resolveSecret(ctx, ref, path)
	case KeyVariables, KeyOutputs, KeyInputs, KeyWorkflow:
		if path == "" {
			return nil, schema.NewErrorf(schema.ErrCodeBinding,
				"invalid reference %q: expected %s.<name>", ref, namespace)
		}
		scope, _ := data[namespace].(map[string]any)
		return lookup(scope, path, ref)
	default:
		available := []string{KeyVariables, KeyOutputs, KeyInputs, KeyWorkflow, KeySecrets}
		return nil, schema.NewErrorf(schema.ErrCodeBinding,
			"unknown namespace %q in ${{ %s }}; available: %s", namespace, ref, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": available})
	}
}

func (e *TemplateEngine) resolveSecret(ctx context.Context, ref, key string) (any, error) {
	if key == "" {
		return nil, schema.NewErrorf(schema.ErrCodeBinding, "invalid secret reference %q: expected secrets.<KEY>", ref)
	}
	if e.vault == nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinding, "cannot resolve secret %q: no vault configured", key)
	}
	val, err := e.vault.Resolve(ctx, key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinding, "resolve secret %q: %s", key, err.Error()).
			WithCause(err)
	}
	return string(val), nil
}

// lookup walks a dotted path. A key containing dots is tried whole first.
func lookup(scope map[string]any, path, ref string) (any, error) {
	if v, ok := scope[path]; ok {
		return v, nil
	}
	var current any = scope
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeBinding, "empty segment in %q", ref)
		}
		m, ok := asMap(current)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeBinding,
				"cannot traverse into %T at %q in %q", current, seg, ref)
		}
		v, ok := m[seg]
		if !ok {
			keys := sortedKeys(m)
			return nil, schema.NewErrorf(schema.ErrCodeBinding,
				"field %q not found in %q; available: [%s]", seg, ref, strings.Join(keys, ", ")).
				WithDetails(map[string]any{"expression": ref, "available_fields": keys})
		}
		current = v
	}
	return current, nil
}

// asMap accepts both generic maps and the per-activity output maps.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]map[string]any:
		out := make(map[string]any, len(m))
		for k, inner := range m {
			out[k] = inner
		}
		return out, true
	}
	return nil, false
}

// inline renders a value inside a larger string.
func inline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	default:
		b, err := xjson.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
