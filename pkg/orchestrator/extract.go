package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// bindOutputs captures step output into the template context for later
// steps. Binding is lenient: a miss is logged and the variable stays
// unbound, so the next step referencing it fails with a clear
// TemplateResolution error instead of silently rendering an empty value.
func (r *run) bindOutputs(step *models.RunbookStep, res *executor.Result) {
	if step.OutputVariable != "" {
		value := extractOutput(res.Stdout, step.OutputExtract)
		r.tctx.SetExtracted(step.OutputVariable, value)
	}

	if step.Type != models.StepAPI {
		return
	}
	for name, expr := range step.APIResponseExtract {
		value, err := extractResponse(res.Stdout, expr)
		if err != nil {
			r.log.Warn("Response extraction failed",
				"step", step.Name, "variable", name, "error", err)
			continue
		}
		r.tctx.SetExtracted(name, value)
	}
}

// extractOutput applies output_extract_pattern to stdout. The pattern's
// first capture group wins; a missing, invalid, or non-matching pattern
// falls back to the whole trimmed stdout.
func extractOutput(stdout, pattern string) string {
	whole := strings.TrimSpace(stdout)
	if pattern == "" {
		return whole
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return whole
	}
	m := re.FindStringSubmatch(stdout)
	if len(m) >= 2 {
		return m[1]
	}
	return whole
}

// extractResponse evaluates one api_response_extract expression against
// the response body. Expressions starting with '$' are JSONPath;
// anything else is a regex whose first capture group (or whole match)
// is taken.
func extractResponse(body, expr string) (any, error) {
	if strings.HasPrefix(expr, "$") {
		return evalJSONPath(body, expr)
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid extract pattern %q: %w", expr, err)
	}
	m := re.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("pattern %q did not match response", expr)
	}
	if len(m) >= 2 {
		return m[1], nil
	}
	return m[0], nil
}

// evalJSONPath evaluates a JSONPath expression against a JSON body and
// returns the first value it produces.
func evalJSONPath(body, expr string) (any, error) {
	path := strings.TrimPrefix(expr, "$")
	switch {
	case path == "" || path == ".":
		path = "."
	case strings.HasPrefix(path, "["):
		path = "." + path
	}

	query, err := gojq.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath %q: %w", expr, err)
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}

	iter := query.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("jsonpath %q produced no value", expr)
	}
	if qerr, isErr := v.(error); isErr {
		return nil, fmt.Errorf("jsonpath %q: %w", expr, qerr)
	}
	if v == nil {
		return nil, fmt.Errorf("jsonpath %q produced no value", expr)
	}
	return v, nil
}
