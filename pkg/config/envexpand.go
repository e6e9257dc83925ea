package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go
// template syntax ({{.VAR_NAME}}). Dollar-based expansion would collide
// with the literal $ characters that regex patterns and shell command
// bodies in runbook configs are full of, so those pass through untouched.
//
// Missing variables expand to empty string; validation catches required
// fields left empty. Malformed templates return the input unchanged so
// the YAML parser produces the error message instead.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
