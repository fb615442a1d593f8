package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/rendis/actionkit/pkg/schema"
)

// CELEngine evaluates Common Expression Language guards. The environment
// exposes two variables:
//   - data:  map(string, dyn), the resolved data-context values
//   - place: string, the place of the update
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// PlaceVar is the data key the place is passed under.
const PlaceVar = "place"

// NewCELEngine creates a CEL engine with a sandboxed environment.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(PlaceVar, cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string { return "cel" }

// Compile checks expression without running it.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate runs expression. data holds the data-context values; a string
// under PlaceVar becomes the place variable.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, expressionError(e.Name(), "evaluation", expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, expressionError(e.Name(), "compile", expression, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, expressionError(e.Name(), "compile", expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}

// buildActivation splits data into the two CEL variables. Nil values are
// dropped so `has(data.x)` reports unresolved keys as absent.
func buildActivation(data map[string]any) map[string]any {
	values := make(map[string]any, len(data))
	place := ""
	for k, v := range data {
		if k == PlaceVar {
			if s, ok := v.(string); ok {
				place = s
			}
			continue
		}
		if v != nil {
			values[k] = v
		}
	}
	return map[string]any{"data": values, PlaceVar: place}
}

var _ Engine = (*CELEngine)(nil)
