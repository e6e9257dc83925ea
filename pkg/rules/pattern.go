package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// regexMeta are the characters that force a pattern to be interpreted as a
// regular expression. A pattern whose only special characters are * and ?
// is a glob.
const regexMeta = `.+()[]{}|^$\`

// compiled caches pattern compilations; patterns come from stored rules
// and triggers, so the population is small and stable.
var compiled sync.Map // string -> *regexp.Regexp

// MatchPattern matches a stored pattern against an alert field. Empty
// patterns and "*" match anything, including empty fields. Glob patterns
// are anchored; regex patterns match anywhere unless self-anchored. All
// matching is case-insensitive.
func MatchPattern(pattern, value string) (bool, error) {
	if pattern == "" || pattern == "*" {
		return true, nil
	}
	if value == "" {
		return false, nil
	}
	re, err := compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := compiled.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	expr := pattern
	if isGlob(pattern) {
		expr = globToRegex(pattern)
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	compiled.Store(pattern, re)
	return re, nil
}

func isGlob(pattern string) bool {
	return !strings.ContainsAny(pattern, regexMeta)
}

// globToRegex converts a glob into an anchored regex, escaping everything
// that is not a wildcard.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// MatchAll matches a set of pattern->value pairs, all of which must hold.
// Used for label and annotation matchers where keys absent from the alert
// count as empty values.
func MatchAll(patterns map[string]string, values map[string]string) (bool, error) {
	for key, pattern := range patterns {
		ok, err := MatchPattern(pattern, values[key])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
