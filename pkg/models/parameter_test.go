package models_test

import (
	"encoding/json"
	"testing"

	"github.com/dukex/flowline/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterType_NewParameter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      models.ParameterType
		value    any
		expected any
		wantErr  bool
	}{
		{name: "string", typ: models.ParameterString, value: "main", expected: "main"},
		{name: "number to string", typ: models.ParameterString, value: float64(3), expected: "3"},
		{name: "bool from string", typ: models.ParameterBool, value: "true", expected: true},
		{name: "bool from garbage", typ: models.ParameterBool, value: "yes please", wantErr: true},
		{name: "number from string", typ: models.ParameterNumber, value: "42.5", expected: 42.5},
		{name: "number from int", typ: models.ParameterNumber, value: 7, expected: float64(7)},
		{name: "number from object", typ: models.ParameterNumber, value: map[string]any{}, wantErr: true},
		{name: "object", typ: models.ParameterObject, value: []any{"a"}, expected: []any{"a"}},
		{name: "null stays null", typ: models.ParameterNumber, value: nil, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			param, err := tt.typ.NewParameter(tt.value)
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrParameterType)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.typ, param.Type)
			assert.Equal(t, tt.expected, param.Value)
			assert.NotEmpty(t, param.ID)
		})
	}
}

func TestParseParameterType(t *testing.T) {
	t.Parallel()

	typ, err := models.ParseParameterType("bool")
	require.NoError(t, err)
	assert.Equal(t, models.ParameterBool, typ)

	_, err = models.ParseParameterType("DATE")
	require.ErrorIs(t, err, models.ErrParameterType)
}

func TestParameter_SecretNeverSerialized(t *testing.T) {
	t.Parallel()

	secret := models.NewSecretParameter("((ns.token))", "s3cr3t")
	assert.Equal(t, "s3cr3t", secret.Value)

	encoded, err := json.Marshal(secret)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "s3cr3t")
	assert.Contains(t, string(encoded), "((ns.token))")
	assert.Equal(t, "((ns.token))", secret.String())

	var decoded models.Parameter

	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, models.ParameterSecret, decoded.Type)
	assert.Nil(t, decoded.Value)
	assert.Equal(t, "((ns.token))", decoded.Ref)

	// forged values on the wire are dropped as well
	var forged models.Parameter

	require.NoError(t, json.Unmarshal([]byte(`{"type":"SECRET","value":"leak","ref":"((a.b))"}`), &forged))
	assert.Nil(t, forged.Value)
}

func TestWithoutSecrets(t *testing.T) {
	t.Parallel()

	params := []models.TriggerEventParameter{
		{Name: "branch", Type: models.ParameterString, Value: "main"},
		{Name: "token", Type: models.ParameterSecret, Value: "abc"},
		{Name: "count", Type: models.ParameterNumber, Value: float64(2)},
	}

	filtered := models.WithoutSecrets(params)
	require.Len(t, filtered, 2)

	for _, p := range filtered {
		assert.NotEqual(t, models.ParameterSecret, p.Type)
	}

	plain := models.ParametersWithoutSecrets([]models.Parameter{
		models.NewSecretParameter("((a.b))", "x"),
		{Type: models.ParameterBool, Value: true},
	})
	require.Len(t, plain, 1)
	assert.Equal(t, models.ParameterBool, plain[0].Type)
}
