package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/conveyor/pkg/schema"
)

// Expression delimiters for tool-argument values.
const (
	exprOpen  = "${{"
	exprClose = "}}"
)

// Scope holds all data available for expression resolution during a tool
// invocation.
type Scope struct {
	Workflow map[string]any // workflow metadata (id, place, namespace, pipeline)
	Context  map[string]any // mutable workflow context
	Data     map[string]any // pending transition payload
	Options  map[string]any // invocation options
	Output   any            // tool output, present only for assign expressions
}

// ToMap flattens the scope into the variable environment expressions see.
func (s *Scope) ToMap() map[string]any {
	m := map[string]any{
		"workflow": orEmpty(s.Workflow),
		"context":  orEmpty(s.Context),
		"data":     orEmpty(s.Data),
		"options":  orEmpty(s.Options),
	}
	if s.Output != nil {
		m["output"] = s.Output
	}
	return m
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Materializer resolves ${{ ... }} expressions inside tool-call arguments.
// A string that is exactly one expression token yields the typed evaluation
// result; a string with embedded tokens is interpolated piecewise into a new
// string. Non-expression values pass through unchanged.
type Materializer struct {
	engine Engine
}

// NewMaterializer creates a Materializer backed by the given engine.
func NewMaterializer(engine Engine) *Materializer {
	return &Materializer{engine: engine}
}

// Materialize resolves every expression in args against the scope and returns
// a new map; args itself is never mutated.
func (m *Materializer) Materialize(ctx context.Context, args map[string]any, scope *Scope) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	env := scope.ToMap()
	out := make(map[string]any, len(args))
	for k, v := range args {
		resolved, err := m.resolveValue(ctx, v, env)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// Evaluate resolves a single expression string (without delimiters) against
// the scope, returning the typed result. Used for assign maps.
func (m *Materializer) Evaluate(ctx context.Context, expression string, scope *Scope) (any, error) {
	return m.engine.Evaluate(ctx, strings.TrimSpace(expression), scope.ToMap())
}

func (m *Materializer) resolveValue(ctx context.Context, v any, env map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return m.resolveString(ctx, val, env)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			resolved, err := m.resolveValue(ctx, nested, env)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			resolved, err := m.resolveValue(ctx, nested, env)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (m *Materializer) resolveString(ctx context.Context, s string, env map[string]any) (any, error) {
	if !strings.Contains(s, exprOpen) {
		return s, nil
	}

	// Whole-token expression: return the typed result.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, exprOpen) && strings.HasSuffix(trimmed, exprClose) {
		inner := trimmed[len(exprOpen) : len(trimmed)-len(exprClose)]
		if !strings.Contains(inner, exprOpen) {
			return m.engine.Evaluate(ctx, strings.TrimSpace(inner), env)
		}
	}

	// Embedded expressions: interpolate into a string.
	var result strings.Builder
	result.Grow(len(s))
	rest := s
	for {
		idx := strings.Index(rest, exprOpen)
		if idx == -1 {
			result.WriteString(rest)
			break
		}
		result.WriteString(rest[:idx])
		rest = rest[idx+len(exprOpen):]

		end := strings.Index(rest, exprClose)
		if end == -1 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"unterminated expression in %q", s)
		}
		expression := strings.TrimSpace(rest[:end])
		rest = rest[end+len(exprClose):]

		out, err := m.engine.Evaluate(ctx, expression, env)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringify(out))
	}
	return result.String(), nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
