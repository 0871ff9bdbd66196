package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/flowengine/pkg/schema"
)

// RedactedValue replaces connection values in censored output.
const RedactedValue = "**REDACTED**"

const connectionsNamespace = "connections"

// SecretSource resolves connection values by name. secrets.Vault satisfies it.
type SecretSource interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
}

// TemplateResolver resolves {{ ... }} tokens inside step inputs against a
// scope of step name to step output.
//
// A string that is exactly one token resolves to the token's raw value
// (numbers, maps and lists keep their type). Tokens embedded in longer
// strings are stringified in place. Plain paths such as step_1.output.id or
// items[0] are traversed directly and resolve to nil when missing; anything
// else is evaluated as an expr-lang expression.
//
// References under connections.<name> resolve through the SecretSource and
// appear as RedactedValue in the censored copy.
type TemplateResolver struct {
	engine  *ExprEngine
	secrets SecretSource
}

// NewTemplateResolver creates a resolver. secrets may be nil, in which case
// connection references fail.
func NewTemplateResolver(secrets SecretSource) *TemplateResolver {
	return &TemplateResolver{engine: NewExprEngine(), secrets: secrets}
}

// Resolve walks unresolved (strings, maps, lists) and returns the resolved
// value together with its censored counterpart. Neither input is modified.
func (r *TemplateResolver) Resolve(ctx context.Context, unresolved any, scope map[string]any) (any, any, error) {
	switch v := unresolved.(type) {
	case string:
		return r.resolveString(ctx, v, scope)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		censored := make(map[string]any, len(v))
		for k, item := range v {
			res, cen, err := r.Resolve(ctx, item, scope)
			if err != nil {
				return nil, nil, err
			}
			resolved[k] = res
			censored[k] = cen
		}
		return resolved, censored, nil
	case []any:
		resolved := make([]any, len(v))
		censored := make([]any, len(v))
		for i, item := range v {
			res, cen, err := r.Resolve(ctx, item, scope)
			if err != nil {
				return nil, nil, err
			}
			resolved[i] = res
			censored[i] = cen
		}
		return resolved, censored, nil
	default:
		return unresolved, unresolved, nil
	}
}

// HasTemplate reports whether s contains a {{ token.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

func (r *TemplateResolver) resolveString(ctx context.Context, input string, scope map[string]any) (any, any, error) {
	if !HasTemplate(input) {
		return input, input, nil
	}

	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		return r.resolveToken(ctx, trimmed[2:len(trimmed)-2], scope)
	}

	var resolved, censored strings.Builder
	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			resolved.WriteString(input[i:])
			censored.WriteString(input[i:])
			break
		}
		resolved.WriteString(input[i : i+idx])
		censored.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"unclosed {{ expression in %q", input)
		}
		end += start

		res, cen, err := r.resolveToken(ctx, input[start:end], scope)
		if err != nil {
			return nil, nil, err
		}
		resolved.WriteString(stringify(res))
		censored.WriteString(stringify(cen))
		i = end + 2
	}
	return resolved.String(), censored.String(), nil
}

func (r *TemplateResolver) resolveToken(ctx context.Context, token string, scope map[string]any) (any, any, error) {
	expr := strings.TrimSpace(token)
	if expr == "" {
		return nil, nil, nil
	}
	if strings.Contains(expr, "{{") {
		return nil, nil, schema.NewError(schema.ErrCodeInterpolation,
			"nested interpolation not allowed: {{...}} cannot contain {{")
	}

	referencesConnection := expr == connectionsNamespace ||
		strings.HasPrefix(expr, connectionsNamespace+".") ||
		strings.HasPrefix(expr, connectionsNamespace+"[")

	if segments, ok := parsePath(expr); ok {
		if referencesConnection {
			val, err := r.resolveConnection(ctx, expr, segments[1:])
			if err != nil {
				return nil, nil, err
			}
			return val, RedactedValue, nil
		}
		val := traverse(scope, segments)
		return val, val, nil
	}

	if referencesConnection || strings.Contains(expr, connectionsNamespace+".") {
		return nil, nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"connection values can only be referenced by plain path, got %q", expr)
	}

	val, err := r.engine.Evaluate(ctx, expr, scope)
	if err != nil {
		return nil, nil, err
	}
	return val, val, nil
}

func (r *TemplateResolver) resolveConnection(ctx context.Context, expr string, segments []string) (any, error) {
	if len(segments) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid connection reference %q: expected connections.<name>", expr)
	}
	if r.secrets == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve %q: no connection vault configured", expr)
	}

	raw, err := r.secrets.Resolve(ctx, segments[0])
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"failed to resolve connection %q: %s", segments[0], err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expr})
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		value = string(raw)
	}
	return traverse(value, segments[1:]), nil
}

var (
	pathPattern    = regexp.MustCompile(`^[A-Za-z_$][\w$]*(?:\.[\w$]+|\[\d+\]|\['[^']*'\]|\["[^"]*"\])*$`)
	segmentPattern = regexp.MustCompile(`\.?([\w$]+)|\[(\d+)\]|\['([^']*)'\]|\["([^"]*)"\]`)
)

// parsePath splits a plain property path into its segments. It reports false
// for anything that needs an expression evaluator.
func parsePath(expr string) ([]string, bool) {
	if !pathPattern.MatchString(expr) {
		return nil, false
	}
	var segments []string
	for _, m := range segmentPattern.FindAllStringSubmatch(expr, -1) {
		for _, g := range m[1:] {
			if g != "" {
				segments = append(segments, g)
				break
			}
		}
	}
	return segments, true
}

func traverse(root any, segments []string) any {
	current := root
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
		current = schema.PlainValue(current)
	}
	return current
}

// stringify renders a resolved value for embedding inside a larger string.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
