package llm

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"pure object", `  {"a": 1}  `, `{"a": 1}`},
		{"pure array", `[1, 2]`, `[1, 2]`},
		{"fenced", "Here is the report:\n```json\n{\"a\": 1}\n```\nThanks", `{"a": 1}`},
		{"first fence wins", "```json\n{\"a\": 1}\n```\n\n```json\n{\"b\": 2}\n```", `{"a": 1}`},
		{"prose around", `Sure! {"a": "x}y", "b": {"c": 2}} hope that helps`, `{"a": "x}y", "b": {"c": 2}}`},
		{"truncated", `Result: {"a": [1, 2`, `{"a": [1, 2`},
		{"no json", "I could not review this diff.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.raw))
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	var target struct {
		Files []struct {
			Name string `json:"name"`
		} `json:"files"`
	}

	raw := "```json\n{\"files\": [{\"name\": \"main.go\"},]}\n```"
	stats, err := DecodeResponse(raw, &target, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, stats.WasRepaired)
	require.Len(t, target.Files, 1)
	assert.Equal(t, "main.go", target.Files[0].Name)
}

func TestDecodeResponseNoJSON(t *testing.T) {
	var target map[string]any
	_, err := DecodeResponse("nothing to see here", &target, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrNoJSON))
}

func TestDecodeResponseWrongShape(t *testing.T) {
	var target struct {
		Files []string `json:"files"`
	}
	_, err := DecodeResponse(`{"files": 3}`, &target, zerolog.Nop())
	assert.Error(t, err)
}
