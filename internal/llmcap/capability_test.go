package llmcap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogops/govqa/internal/coreerrors"
)

func testSchema() Schema {
	return Schema{
		Name: "test_schema",
		Definition: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"kind"},
			"properties": map[string]any{
				"kind": map[string]any{
					"type": "string",
					"enum": []any{"in_domain", "chitchat"},
				},
			},
		},
	}
}

func TestValidateAgainstSchema_Valid(t *testing.T) {
	doc, err := ValidateAgainstSchema(testSchema(), []byte(`{"kind":"in_domain"}`))
	require.NoError(t, err)
	require.Equal(t, "in_domain", doc["kind"])
}

func TestValidateAgainstSchema_InvalidEnum(t *testing.T) {
	_, err := ValidateAgainstSchema(testSchema(), []byte(`{"kind":"not_a_value"}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, coreerrors.ErrSchemaViolation))
}

func TestValidateAgainstSchema_MalformedJSON(t *testing.T) {
	_, err := ValidateAgainstSchema(testSchema(), []byte(`{not json`))
	require.Error(t, err)
	require.True(t, errors.Is(err, coreerrors.ErrSchemaViolation))
}

func TestValidateAgainstSchema_MissingRequired(t *testing.T) {
	_, err := ValidateAgainstSchema(testSchema(), []byte(`{}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, coreerrors.ErrSchemaViolation))
}
