// Package expressions evaluates the small expressions declarative menus
// attach to their actions: visibility and enablement conditions, perform
// guards, text templates and state queries.
package expressions

import (
	"context"
	"reflect"

	"github.com/rendis/actionkit/pkg/schema"
)

// Engine evaluates expressions against a data map.
// Three implementations: Expr (conditions), CEL (guards), GoJQ (state queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines bundles one instance of every engine. Each caches compiled
// programs and is safe for concurrent use.
type Engines struct {
	Expr *ExprEngine
	CEL  *CELEngine
	JQ   *GoJQEngine
}

// NewEngines creates the engine set.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{
		Expr: NewExprEngine(),
		CEL:  celEngine,
		JQ:   NewGoJQEngine(),
	}, nil
}

// ByName returns the engine with the given name.
func (e *Engines) ByName(name string) (Engine, bool) {
	switch name {
	case "", "expr":
		return e.Expr, true
	case "cel":
		return e.CEL, true
	case "jq":
		return e.JQ, true
	}
	return nil, false
}

// EvaluateBool evaluates expression and coerces the result with Truthy.
// A result that is neither a bool nor nil is an error.
func EvaluateBool(ctx context.Context, eng Engine, expression string, data map[string]any) (bool, error) {
	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	}
	return false, schema.NewErrorf(schema.ErrCodeExpression,
		"%s expression %q returned %T, want bool", eng.Name(), expression, out).
		WithDetails(map[string]any{"expression": expression, "engine": eng.Name()})
}

// Truthy reports whether v counts as set: non-nil, non-zero and, for
// collections, non-empty.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}

func expressionError(engine, stage, expression string, err error) *schema.ActionError {
	code := schema.ErrCodeExpression
	if stage != "evaluation" {
		code = schema.ErrCodeValidation
	}
	return schema.NewErrorf(code, "%s %s failed for %q: %s", engine, stage, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "engine": engine})
}
