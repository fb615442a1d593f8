package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngine_Conditions(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"project":   "demo",
		"selection": []any{"a.go", "b.go"},
		"editor":    nil,
		PlaceVar:    "EditorPopup",
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"set key", `project != nil`, true},
		{"nil key", `editor != nil`, false},
		{"undeclared key is nil", `missing == nil`, true},
		{"list length", `len(selection) > 1`, true},
		{"place", `place == "EditorPopup"`, true},
		{"nil coalescing", `(editor ?? "none") == "none"`, true},
		{"any", `any(selection, {# endsWith ".go"})`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateBool(context.Background(), e, tc.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExprEngine_ProgramServesAnyShape(t *testing.T) {
	e := NewExprEngine()

	got, err := EvaluateBool(context.Background(), e, `project != nil`, map[string]any{"project": "x"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateBool(context.Background(), e, `project != nil`, map[string]any{"project": 42})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateBool(context.Background(), e, `project != nil`, nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestExprEngine_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = e.Compile(`project ==`)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = EvaluateBool(context.Background(), e, `"text"`, nil)
	assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
}

func TestExprEngine_ConcurrentUse(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `n * 2`, map[string]any{"n": i})
			assert.NoError(t, err)
			assert.Equal(t, i*2, out)
		}(i)
	}
	wg.Wait()
}

func TestEngines_ByName(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	for _, name := range []string{"", "expr", "cel", "jq"} {
		eng, ok := engines.ByName(name)
		require.True(t, ok, name)
		assert.NotNil(t, eng)
	}
	_, ok := engines.ByName("lua")
	assert.False(t, ok)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))
	assert.False(t, Truthy(false))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(1.5))
	assert.True(t, Truthy([]any{1}))
	assert.True(t, Truthy(true))
}
