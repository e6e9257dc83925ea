// Package redact scrubs sensitive values from text before it crosses a
// trust boundary: payloads sent to the analysis service and detail blobs
// written to the audit log. Patterns are compiled once at startup; the
// redactor is stateless after that and safe for concurrent use.
package redact

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/codeready-toolchain/remedy/pkg/config"
)

// CompiledPattern is a ready-to-apply redaction rule.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Redactor applies a fixed, resolved set of patterns.
type Redactor struct {
	enabled bool
	active  []*CompiledPattern
}

// New builds a redactor from configuration. Pattern groups expand to
// built-in patterns; custom patterns are appended after them. Patterns
// that fail to compile are logged and skipped rather than aborting
// startup. A nil or disabled config yields a pass-through redactor.
func New(cfg *config.RedactionConfig) *Redactor {
	r := &Redactor{}
	if cfg == nil || !cfg.IsEnabled() {
		slog.Info("Redaction disabled")
		return r
	}
	r.enabled = true

	builtins := builtinPatterns()
	groups := builtinGroups()
	seen := make(map[string]bool)

	add := func(name string, bp builtinPattern) {
		if seen[name] {
			return
		}
		seen[name] = true
		compiled, err := regexp.Compile(bp.Pattern)
		if err != nil {
			slog.Error("Failed to compile redaction pattern, skipping",
				"pattern", name, "error", err)
			return
		}
		r.active = append(r.active, &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: bp.Replacement,
		})
	}

	for _, groupName := range cfg.PatternGroups {
		members, ok := groups[groupName]
		if !ok {
			slog.Warn("Unknown redaction pattern group, skipping", "group", groupName)
			continue
		}
		for _, name := range members {
			add(name, builtins[name])
		}
	}

	for i, p := range cfg.Patterns {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("custom:%d", i)
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = fmt.Sprintf("__REDACTED_%s__", name)
		}
		add("custom:"+name, builtinPattern{Pattern: p.Pattern, Replacement: replacement})
	}

	slog.Info("Redactor initialized",
		"groups", cfg.PatternGroups,
		"active_patterns", len(r.active))
	return r
}

// Redact returns s with every active pattern applied, in resolution order.
func (r *Redactor) Redact(s string) string {
	if r == nil || !r.enabled || s == "" {
		return s
	}
	for _, p := range r.active {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// RedactMap applies Redact to every string value of a shallow map. Non
// string values pass through untouched.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if r == nil || !r.enabled || len(m) == 0 {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
		} else {
			out[k] = v
		}
	}
	return out
}

// ActivePatterns lists the names of the patterns in effect, for health and
// startup reporting.
func (r *Redactor) ActivePatterns() []string {
	names := make([]string, 0, len(r.active))
	for _, p := range r.active {
		names = append(names, p.Name)
	}
	return names
}
