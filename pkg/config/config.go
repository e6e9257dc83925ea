package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// Config is the resolved runtime configuration for the remediation engine.
// It is built once at startup by Initialize and treated as read-only after
// that; everything here comes from remedy.yaml merged over built-in
// defaults. Database settings deliberately live outside this file and are
// read from the environment (see pkg/database).
type Config struct {
	configDir string

	Server        *ServerConfig
	Queue         *QueueConfig
	Notifications *NotificationsConfig
	Retention     *RetentionConfig
	Security      *SecurityConfig
	LLM           *LLMConfig
	IaC           *IaCConfig
}

// ConfigDir returns the directory remedy.yaml was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig groups HTTP server settings.
type ServerConfig struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port"`

	// AllowedWSOrigins is the list of Origin values accepted on /ws.
	// Empty means same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// DashboardURL is the public base URL used in outbound notification
	// links. Empty disables links.
	DashboardURL string `yaml:"dashboard_url"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: 8080,
	}
}

// QueueConfig contains queue, worker pool, and background sweeper settings.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and claims pending executions.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentExecutions is the global limit of concurrently running
	// executions across ALL replicas. Enforced by a database COUNT(*).
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`

	// PollInterval is the base interval for checking claimable executions.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ExecutionTimeout is the maximum wall-clock time one execution may
	// run, all steps and rollbacks included.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// HeartbeatInterval is how often a worker refreshes the liveness
	// timestamp of the execution it is running.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout is the max time to wait for running
	// executions during shutdown. Executions still running after the
	// budget keep their claim and are recovered as orphans on restart.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// SweepInterval is how often the background sweeper checks schedules,
	// approval deadlines, breaker timers, and blackout edges.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// OrphanDetectionInterval is how often to scan for executions whose
	// claiming pod stopped heartbeating.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long an execution may go without a heartbeat
	// before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentExecutions: 5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		ExecutionTimeout:        30 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		GracefulShutdownTimeout: 5 * time.Minute,
		SweepInterval:           30 * time.Second,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}

// NotificationsConfig groups outbound notification settings.
type NotificationsConfig struct {
	Slack *SlackConfig `yaml:"slack"`
}

// SlackConfig holds Slack notification settings. The bot token itself is
// never written into YAML; only the name of the environment variable that
// carries it.
type SlackConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// IsEnabled reports whether Slack notifications should be wired up. An
// absent enabled flag counts as on; the notifier itself degrades to a
// no-op when the token or channel is missing.
func (c *SlackConfig) IsEnabled() bool {
	if c == nil {
		return false
	}
	return c.Enabled == nil || *c.Enabled
}

// Token resolves the bot token from the configured environment variable.
func (c *SlackConfig) Token() string {
	if c == nil {
		return ""
	}
	env := c.TokenEnv
	if env == "" {
		env = "SLACK_BOT_TOKEN"
	}
	return os.Getenv(env)
}

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// ExecutionRetentionDays is how many days terminal executions (and
	// their step records) are kept before deletion.
	ExecutionRetentionDays int `yaml:"execution_retention_days"`

	// AuditRetentionDays is how many days audit events are kept.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// EventTTL is the maximum age of stream event rows before deletion.
	// Live consumers only need them for catch-up, so this stays short.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup pass runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ExecutionRetentionDays: 90,
		AuditRetentionDays:     365,
		EventTTL:               1 * time.Hour,
		CleanupInterval:        12 * time.Hour,
	}
}

// SecurityConfig groups credential encryption and redaction settings.
type SecurityConfig struct {
	// CredentialKeyEnv names the environment variable carrying the
	// 32-byte key (hex or base64) that seals server credential material.
	CredentialKeyEnv string `yaml:"credential_key_env"`

	Redaction *RedactionConfig `yaml:"redaction"`
}

// RedactionConfig controls boundary redaction of sensitive values before
// they reach the analysis service or the audit log.
type RedactionConfig struct {
	Enabled       *bool           `yaml:"enabled,omitempty"`
	PatternGroups []string        `yaml:"pattern_groups,omitempty"`
	Patterns      []CustomPattern `yaml:"patterns,omitempty"`
}

// CustomPattern is a user-supplied redaction regex.
type CustomPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement,omitempty"`
}

// IsEnabled reports whether redaction is active. Defaults to on.
func (c *RedactionConfig) IsEnabled() bool {
	if c == nil {
		return true
	}
	return c.Enabled == nil || *c.Enabled
}

// CredentialKey resolves and decodes the credential sealing key. Accepts
// 64 hex characters or standard base64; either way the decoded key must be
// exactly 32 bytes. Returns nil when the variable is unset so the caller
// decides whether that is fatal.
func (c *SecurityConfig) CredentialKey() ([]byte, error) {
	env := c.CredentialKeyEnv
	if env == "" {
		env = "REMEDY_CREDENTIAL_KEY"
	}
	raw := os.Getenv(env)
	if raw == "" {
		return nil, nil
	}
	if key, err := hex.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is neither 64 hex chars nor base64: %w", env, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", env, len(key))
	}
	return key, nil
}

// DefaultSecurityConfig returns the built-in security defaults.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CredentialKeyEnv: "REMEDY_CREDENTIAL_KEY",
		Redaction: &RedactionConfig{
			PatternGroups: []string{"security"},
		},
	}
}

// LLMConfig holds the analysis service client settings. Analysis is an
// optional annotation step; when BaseURL is empty the engine runs without
// it.
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Configured reports whether an analysis endpoint is set.
func (c *LLMConfig) Configured() bool {
	return c != nil && c.BaseURL != ""
}

// APIKey resolves the API key from the configured environment variable.
func (c *LLMConfig) APIKey() string {
	env := c.APIKeyEnv
	if env == "" {
		env = "LLM_API_KEY"
	}
	return os.Getenv(env)
}

// DefaultLLMConfig returns the built-in analysis client defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		APIKeyEnv: "LLM_API_KEY",
		Timeout:   30 * time.Second,
	}
}

// IaCConfig controls runbook import from remote URLs.
type IaCConfig struct {
	// AllowedDomains is the host allowlist for runbook import URLs.
	AllowedDomains []string `yaml:"allowed_domains"`

	// GitHubTokenEnv names the environment variable with the token used
	// for private GitHub content. Defaults to GITHUB_TOKEN.
	GitHubTokenEnv string `yaml:"github_token_env,omitempty"`

	// FetchTimeout bounds one import download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// MaxDocumentBytes caps the size of an imported document.
	MaxDocumentBytes int64 `yaml:"max_document_bytes"`
}

// GitHubToken resolves the GitHub token from the environment.
func (c *IaCConfig) GitHubToken() string {
	env := c.GitHubTokenEnv
	if env == "" {
		env = "GITHUB_TOKEN"
	}
	return os.Getenv(env)
}

// DefaultIaCConfig returns the built-in import defaults.
func DefaultIaCConfig() *IaCConfig {
	return &IaCConfig{
		AllowedDomains: []string{
			"github.com",
			"raw.githubusercontent.com",
			"gitlab.com",
		},
		GitHubTokenEnv:   "GITHUB_TOKEN",
		FetchTimeout:     30 * time.Second,
		MaxDocumentBytes: 1 << 20,
	}
}
