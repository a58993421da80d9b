package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Voici le JSON: {\"a\":{\"b\":2}} merci", `{"a":{"b":2}}`},
	}
	for _, tt := range tests {
		got, err := Extract(tt.in)
		require.NoError(t, err, tt.in)
		assert.JSONEq(t, tt.want, string(got))
	}

	for _, bad := range []string{"", "pas de json", `{"a":`, "} {"} {
		_, err := Extract(bad)
		assert.ErrorIs(t, err, ErrNoJSON, bad)
	}
}

func TestSchemaValidate(t *testing.T) {
	s := MustCompile(map[string]any{
		"type":     "object",
		"required": []any{"kind"},
		"properties": map[string]any{
			"kind": map[string]any{"type": "string", "enum": Enum([]string{"a", "b"})},
		},
	})
	assert.NoError(t, s.Validate([]byte(`{"kind":"a"}`)))
	assert.Error(t, s.Validate([]byte(`{"kind":"c"}`)))
	assert.Error(t, s.Validate([]byte(`{}`)))
}
