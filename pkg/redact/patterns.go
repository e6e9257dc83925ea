package redact

// builtinPattern is a named regex with its replacement text.
type builtinPattern struct {
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns returns the built-in redaction regexes. Invalid user
// patterns are skipped at compile time; these are tested and always load.
func builtinPatterns() map[string]builtinPattern {
	return map[string]builtinPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__REDACTED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__REDACTED_PASSWORD__"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__REDACTED_TOKEN__"`,
			Description: "Access tokens",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"private_key": "__REDACTED_PRIVATE_KEY__"`,
			Description: "Private keys",
		},
		"secret_key": {
			Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"secret_key": "__REDACTED_SECRET_KEY__"`,
			Description: "Secret keys",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__REDACTED_CERTIFICATE__`,
			Description: "PEM blocks",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__REDACTED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__REDACTED_EMAIL__`,
			Description: "Email addresses",
		},
		"aws_access_key": {
			Pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
			Replacement: `"aws_access_key_id": "__REDACTED_AWS_KEY__"`,
			Description: "AWS access keys",
		},
		"aws_secret_key": {
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			Replacement: `"aws_secret_access_key": "__REDACTED_AWS_SECRET__"`,
			Description: "AWS secret keys",
		},
		"github_token": {
			Pattern:     `gh[ps]_[A-Za-z0-9_]{36,255}`,
			Replacement: `__REDACTED_GITHUB_TOKEN__`,
			Description: "GitHub tokens",
		},
		"slack_token": {
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `__REDACTED_SLACK_TOKEN__`,
			Description: "Slack tokens",
		},
	}
}

// builtinGroups returns predefined bundles of pattern names so configs can
// say "security" instead of listing twelve regexes.
func builtinGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"secrets":  {"api_key", "password", "token", "private_key", "secret_key"},
		"security": {"api_key", "password", "token", "private_key", "secret_key", "certificate", "ssh_key", "email"},
		"cloud":    {"aws_access_key", "aws_secret_key", "api_key", "token"},
		"all": {
			"api_key", "password", "token", "private_key", "secret_key",
			"certificate", "ssh_key", "email",
			"aws_access_key", "aws_secret_key", "github_token", "slack_token",
		},
	}
}
