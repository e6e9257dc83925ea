package iac

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// githubBlobPattern matches GitHub blob URLs.
// Format: https://github.com/{owner}/{repo}/blob/{ref}/{path...}
var githubBlobPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/blob/([^/]+)(?:/(.*))?$`)

// ConvertToRawURL converts a GitHub blob URL to a raw content URL.
// Returns the URL unchanged if already raw or not a recognized GitHub URL.
func ConvertToRawURL(importURL string) string {
	parsed, err := url.Parse(importURL)
	if err != nil {
		return importURL
	}

	if parsed.Host == "raw.githubusercontent.com" {
		return importURL
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return importURL
	}

	matches := githubBlobPattern.FindStringSubmatch(parsed.Path)
	if matches == nil {
		return importURL
	}

	owner, repo, ref, path := matches[1], matches[2], matches[3], matches[4]
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s", owner, repo, ref, path)
}

// ValidateImportURL checks that the URL uses an allowed scheme and domain.
func ValidateImportURL(importURL string, allowedDomains []string) error {
	parsed, err := url.Parse(importURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}

	if len(allowedDomains) > 0 {
		host := strings.ToLower(parsed.Hostname())
		allowed := false
		for _, domain := range allowedDomains {
			if host == domain || host == "www."+domain {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("domain %q not in allowed list", host)
		}
	}

	return nil
}

// isGitHubHost reports whether the host should receive the GitHub token.
func isGitHubHost(host string) bool {
	switch strings.ToLower(host) {
	case "github.com", "www.github.com", "raw.githubusercontent.com", "api.github.com":
		return true
	default:
		return false
	}
}
