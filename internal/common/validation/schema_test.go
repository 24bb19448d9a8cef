package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"query"},
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "minLength": 1},
			"context": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100},
				},
			},
		},
	}
}

func TestValidator_Valid(t *testing.T) {
	v, err := NewValidator(testSchema())
	require.NoError(t, err)

	res, err := v.Validate(map[string]interface{}{
		"query":   "billing",
		"context": map[string]interface{}{"limit": 5},
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidator_MissingRequired(t *testing.T) {
	v, err := NewValidator(testSchema())
	require.NoError(t, err)

	res, err := v.Validate(map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "query", res.Errors[0].Field)
	assert.Equal(t, "REQUIRED", res.Errors[0].Code)
	assert.True(t, res.HasErrors("query"))
}

func TestValidator_NestedRange(t *testing.T) {
	v, err := NewValidator(testSchema())
	require.NoError(t, err)

	res, err := v.ValidateJSON([]byte(`{"query":"x","context":{"limit":500}}`))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Len(t, res.GetErrorsForField("context"), 1)
	assert.Len(t, res.GetErrorMessages(), 1)
}

func TestValidator_MalformedJSON(t *testing.T) {
	v, err := NewValidator(testSchema())
	require.NoError(t, err)

	_, err = v.ValidateJSON([]byte(`{"query":`))
	assert.Error(t, err)
}

func TestNewValidator_InvalidSchema(t *testing.T) {
	_, err := NewValidator(map[string]interface{}{"type": 42})
	assert.Error(t, err)
}
