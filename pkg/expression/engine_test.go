package expression_test

import (
	"context"
	"testing"

	"github.com/dukex/flowline/pkg/expression"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *expression.Engine {
	t.Helper()

	store := secrets.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "ns", "secret", "abc"))

	return expression.NewEngine(store)
}

func TestParseSecretRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		exp       string
		namespace string
		key       string
		ok        bool
	}{
		{exp: "((ns.secret))", namespace: "ns", key: "secret", ok: true},
		{exp: "((my-ns.api_key))", namespace: "my-ns", key: "api_key", ok: true},
		{exp: "(ns.secret)", ok: false},
		{exp: "((ns.secret)) ", ok: false},
		{exp: "plain", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.exp, func(t *testing.T) {
			t.Parallel()

			namespace, key, ok := expression.ParseSecretRef(tt.exp)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.namespace, namespace)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestEngine_Evaluate(t *testing.T) {
	t.Parallel()

	vars := expression.NewContext()
	vars.Add(expression.TriggerNamespace, "branch", models.Parameter{Type: models.ParameterString, Value: "main"})
	vars.Add(expression.TriggerNamespace, "count", models.Parameter{Type: models.ParameterNumber, Value: float64(3)})
	vars.SetRoot("header", map[string]any{"x-event": "push"})

	tests := []struct {
		name     string
		exp      string
		typ      models.ParameterType
		expected any
	}{
		{name: "literal", exp: "hello world", typ: models.ParameterString, expected: "hello world"},
		{name: "literal with quotes", exp: `say "hi"`, typ: models.ParameterString, expected: `say "hi"`},
		{name: "namespaced variable", exp: "(trigger.branch)", typ: models.ParameterString, expected: "main"},
		{name: "comparison", exp: "(trigger.branch == 'main')", typ: models.ParameterBool, expected: true},
		{name: "arithmetic", exp: "(trigger.count * 2)", typ: models.ParameterNumber, expected: float64(6)},
		{name: "header root", exp: "(header['x-event'] == 'push')", typ: models.ParameterBool, expected: true},
		{name: "concatenation", exp: "('refs/heads/' + trigger.branch)", typ: models.ParameterString, expected: "refs/heads/main"},
		{name: "secret", exp: "((ns.secret))", typ: models.ParameterSecret, expected: "abc"},
	}

	engine := newEngine(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			param, err := engine.Evaluate(context.Background(), tt.exp, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, param.Type)
			assert.Equal(t, tt.expected, param.Value)
		})
	}
}

func TestEngine_EvaluateFailures(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)

	_, err := engine.Evaluate(context.Background(), "((ns.missing))", nil)
	require.Error(t, err)
	assert.True(t, expression.IsDataNotFound(err))
	assert.Contains(t, err.Error(), "((ns.missing))")

	_, err = engine.Evaluate(context.Background(), "(1 +)", nil)
	require.ErrorIs(t, err, expression.ErrEvaluation)

	var evalErr *expression.EvaluationError

	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "(1 +)", evalErr.Expression)

	_, err = expression.NewEngine(nil).Evaluate(context.Background(), "((ns.secret))", nil)
	assert.True(t, expression.IsDataNotFound(err))
}

func TestEngine_EvaluateBool(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)
	vars := expression.NewContext()
	vars.SetRoot("header", map[string]any{"x-event": "pull"})

	ok, result, err := engine.EvaluateBool(context.Background(), "(header['x-event'] == 'push')", vars)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "false", result.String())

	// a non-boolean result is not a match
	ok, result, err = engine.EvaluateBool(context.Background(), "(header['x-event'])", vars)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.ParameterString, result.Type)
}

func TestEngine_Bind(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)
	event := &models.TriggerEvent{Parameters: []models.TriggerEventParameter{
		{Name: "ref", Type: models.ParameterString, Value: "main"},
	}}

	bound, err := engine.Bind(context.Background(), map[string]string{
		"branch": "(trigger.ref)",
		"token":  "((ns.secret))",
		"image":  "golang:1.24",
	}, expression.FromTriggerEvent(event))
	require.NoError(t, err)

	assert.Equal(t, "main", bound["branch"].Value)
	assert.Equal(t, "golang:1.24", bound["image"].Value)
	assert.True(t, bound["token"].IsSecret())
	assert.Equal(t, "((ns.secret))", bound["token"].Ref)

	_, err = engine.Bind(context.Background(), map[string]string{"broken": "((ns.nope))"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
