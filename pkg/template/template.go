// Package template renders the user-supplied string fields of runbook
// steps (commands, API endpoints, bodies, headers, environment values)
// against a per-execution context. Rendering is strict: referencing an
// undefined key fails the step rather than silently substituting nothing.
package template

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Context is the data visible to step templates. Top-level keys: alert,
// server, vars, extracted, execution, now.
type Context map[string]any

// Build assembles the rendering context for one execution. Any of the
// record arguments may be nil; absent entities contribute empty values so
// patterns like {{ alert.name }} render as "" instead of exploding on
// manual executions without an alert.
func Build(alert *models.Alert, server *models.ServerCredential, ex *models.RunbookExecution, vars, extracted models.AnyMap) Context {
	if vars == nil {
		vars = models.AnyMap{}
	}
	if extracted == nil {
		extracted = models.AnyMap{}
	}

	serverCtx := map[string]any{
		"name": "", "hostname": "", "os_type": "", "environment": "",
		"tags": []string{}, "protocol": "", "port": 0,
	}
	if server != nil {
		tags := []string(server.Tags)
		if tags == nil {
			tags = []string{}
		}
		serverCtx = map[string]any{
			"name":        server.Name,
			"hostname":    server.Hostname,
			"os_type":     string(server.OSType),
			"environment": server.Environment,
			"tags":        tags,
			"protocol":    string(server.Protocol),
			"port":        server.DefaultPort(),
		}
	}

	executionCtx := map[string]any{"id": "", "mode": "", "dry_run": false}
	if ex != nil {
		executionCtx = map[string]any{
			"id":      ex.ID,
			"mode":    string(ex.Mode),
			"dry_run": ex.IsDryRun,
		}
	}

	return Context{
		"alert":     alert.TemplateContext(),
		"server":    serverCtx,
		"vars":      map[string]any(vars),
		"extracted": map[string]any(extracted),
		"execution": executionCtx,
		"now":       time.Now().UTC().Format(time.RFC3339),
	}
}

// SetExtracted binds a step output so later steps can reference it as
// {{ extracted.<name> }}.
func (c Context) SetExtracted(name string, value any) {
	if m, ok := c["extracted"].(map[string]any); ok {
		m[name] = value
	}
}

// SetVar binds a runtime variable under vars.
func (c Context) SetVar(name string, value any) {
	if m, ok := c["vars"].(map[string]any); ok {
		m[name] = value
	}
}

// Extracted returns a snapshot of the bound step outputs for persistence.
func (c Context) Extracted() models.AnyMap {
	out := models.AnyMap{}
	if m, ok := c["extracted"].(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// ResolutionError reports a template that failed to parse or referenced an
// undefined key. The API surfaces it as TemplateResolution.
type ResolutionError struct {
	Field string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("TemplateResolution: field %q: %v", e.Field, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError reports whether err is a template resolution failure.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// bareRef rewrites un-rooted references to the known context roots
// ({{ alert.name }}, {{ if vars.x }}, {{ (extracted.y) }}) into rooted Go
// template form ({{ .alert.name }}). Already-rooted references pass
// through untouched.
var bareRef = regexp.MustCompile(
	`(\{\{-?\s*|\(\s*|\|\s*|\b(?:if|else if|range|with|and|or|not|eq|ne|lt|le|gt|ge|len|index|printf)\s+)` +
		`(alert|server|vars|extracted|execution|now)\b`)

func normalize(input string) string {
	return bareRef.ReplaceAllString(input, "$1.$2")
}

// Render executes the template strictly: any reference to a missing key
// fails with a ResolutionError naming the field.
func Render(field, input string, ctx Context) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}
	tmpl, err := template.New(field).Option("missingkey=error").Parse(normalize(input))
	if err != nil {
		return "", &ResolutionError{Field: field, Err: err}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(ctx)); err != nil {
		return "", &ResolutionError{Field: field, Err: err}
	}
	out := buf.String()
	// missingkey=error does not catch nil-valued keys; treat the rendered
	// placeholder as unresolved to keep strictness uniform.
	if strings.Contains(out, "<no value>") {
		return "", &ResolutionError{Field: field, Err: fmt.Errorf("reference resolved to no value")}
	}
	return out, nil
}

// RenderLenient substitutes what it can and renders missing references as
// empty strings. Reserved for fields explicitly marked lenient.
func RenderLenient(field, input string, ctx Context) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}
	tmpl, err := template.New(field).Option("missingkey=zero").Parse(normalize(input))
	if err != nil {
		return "", &ResolutionError{Field: field, Err: err}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(ctx)); err != nil {
		return "", &ResolutionError{Field: field, Err: err}
	}
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// RenderMap renders every value of a string map strictly, keeping keys.
func RenderMap(field string, in map[string]string, ctx Context) (map[string]string, error) {
	if len(in) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		rendered, err := Render(fmt.Sprintf("%s[%s]", field, k), v, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}
