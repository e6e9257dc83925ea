package iac

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/codeready-toolchain/remedy/pkg/config"
)

// Fetcher downloads IaC documents from allowlisted URLs. GitHub blob URLs
// are rewritten to their raw form; the GitHub token only ever goes to
// GitHub hosts.
type Fetcher struct {
	httpClient     *http.Client
	token          string
	allowedDomains []string
	maxBytes       int64
}

// NewFetcher creates a fetcher from import configuration.
func NewFetcher(cfg *config.IaCConfig) *Fetcher {
	return &Fetcher{
		httpClient:     &http.Client{Timeout: cfg.FetchTimeout},
		token:          cfg.GitHubToken(),
		allowedDomains: cfg.AllowedDomains,
		maxBytes:       cfg.MaxDocumentBytes,
	}
}

// Fetch validates the URL against the allowlist and downloads the document.
func (f *Fetcher) Fetch(ctx context.Context, importURL string) ([]byte, error) {
	if err := ValidateImportURL(importURL, f.allowedDomains); err != nil {
		return nil, err
	}
	downloadURL := ConvertToRawURL(importURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.token != "" {
		if u, err := url.Parse(downloadURL); err == nil && isGitHubHost(u.Host) {
			req.Header.Set("Authorization", "Bearer "+f.token)
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch runbook from %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("import source returned HTTP %d for %s", resp.StatusCode, downloadURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("document exceeds %d byte limit", f.maxBytes)
	}
	return body, nil
}
