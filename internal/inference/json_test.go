package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go: {\"a\":{\"b\":2}} hope that helps", `{"a":{"b":2}}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	obj, err := ExtractJSON("```json\n{\"maker\":\"Gorham\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"maker":"Gorham"}`, string(obj))

	_, err = ExtractJSON("no braces")
	assert.Error(t, err)

	_, err = ExtractJSON(`{"maker": "Gorham",}`)
	assert.Error(t, err)
}
