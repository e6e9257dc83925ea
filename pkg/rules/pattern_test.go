package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{name: "star matches anything", pattern: "*", value: "NginxDown", want: true},
		{name: "star matches empty", pattern: "*", value: "", want: true},
		{name: "empty pattern matches anything", pattern: "", value: "whatever", want: true},
		{name: "glob prefix", pattern: "NginxDown*", value: "NginxDownProd", want: true},
		{name: "glob prefix exact", pattern: "NginxDown*", value: "NginxDown", want: true},
		{name: "glob prefix miss", pattern: "NginxDown*", value: "ApacheDown", want: false},
		{name: "glob question mark", pattern: "web-0?", value: "web-01", want: true},
		{name: "glob question mark multi", pattern: "web-0?", value: "web-012", want: false},
		{name: "glob is anchored", pattern: "critical", value: "critical-ish", want: false},
		{name: "glob exact word", pattern: "critical", value: "critical", want: true},
		{name: "glob case-insensitive", pattern: "CRITICAL", value: "critical", want: true},
		{name: "empty value never matches non-star", pattern: "critical", value: "", want: false},
		{name: "regex digit class", pattern: `web-\d+`, value: "web-01:9100", want: true},
		{name: "regex alternation", pattern: "critical|warning", value: "warning", want: true},
		{name: "regex anchored by author", pattern: "^node$", value: "node-exporter", want: false},
		{name: "regex case-insensitive", pattern: "Nginx.*", value: "NGINXDOWN", want: true},
		{name: "glob with dot is regex", pattern: "web.example.*", value: "webXexampleY", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchPattern(tt.pattern, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchPatternInvalidRegex(t *testing.T) {
	_, err := MatchPattern("ngin[x", "nginx")
	require.Error(t, err)
}

func TestMatchAll(t *testing.T) {
	values := map[string]string{"env": "prod", "team": "platform"}

	ok, err := MatchAll(map[string]string{"env": "prod", "team": "*"}, values)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchAll(map[string]string{"env": "staging"}, values)
	require.NoError(t, err)
	assert.False(t, ok)

	// Absent keys behave as empty values: only "*" can match them.
	ok, err = MatchAll(map[string]string{"region": "*"}, values)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchAll(map[string]string{"region": "eu-.*"}, values)
	require.NoError(t, err)
	assert.False(t, ok)
}
