package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("REMEDY_EXPAND_A", "alpha")
	t.Setenv("REMEDY_EXPAND_B", "beta")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single variable",
			input: "value: {{.REMEDY_EXPAND_A}}",
			want:  "value: alpha",
		},
		{
			name:  "multiple variables",
			input: "host: {{.REMEDY_EXPAND_A}}:{{.REMEDY_EXPAND_B}}",
			want:  "host: alpha:beta",
		},
		{
			name:  "missing variable expands empty",
			input: "value: '{{.REMEDY_EXPAND_MISSING}}'",
			want:  "value: ''",
		},
		{
			name:  "dollar signs pass through",
			input: `pattern: "^secret.*$ and $HOME and ${ARRAY[0]}"`,
			want:  `pattern: "^secret.*$ and $HOME and ${ARRAY[0]}"`,
		},
		{
			name:  "no template syntax",
			input: "plain: yaml",
			want:  "plain: yaml",
		},
		{
			name:  "malformed template returned unchanged",
			input: "value: {{.UNCLOSED",
			want:  "value: {{.UNCLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}
