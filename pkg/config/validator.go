package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// validate performs validation on loaded configuration, section by
// section, fail-fast with a contextual error.
func validate(cfg *Config) error {
	if err := validateServer(cfg.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := validateQueue(cfg.Queue); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := validateRetention(cfg.Retention); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := validateSecurity(cfg.Security); err != nil {
		return fmt.Errorf("security validation failed: %w", err)
	}
	if err := validateLLM(cfg.LLM); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := validateIaC(cfg.IaC); err != nil {
		return fmt.Errorf("iac validation failed: %w", err)
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	if s.DashboardURL != "" {
		if _, err := url.ParseRequestURI(s.DashboardURL); err != nil {
			return NewValidationError("server", "dashboard_url", err)
		}
	}
	return nil
}

func validateQueue(q *QueueConfig) error {
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if q.MaxConcurrentExecutions < q.WorkerCount {
		return NewValidationError("queue", "max_concurrent_executions",
			fmt.Errorf("must be >= worker_count (%d)", q.WorkerCount))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("must be positive"))
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "poll_interval_jitter",
			fmt.Errorf("must be in [0, poll_interval)"))
	}
	if q.ExecutionTimeout <= 0 {
		return NewValidationError("queue", "execution_timeout", fmt.Errorf("must be positive"))
	}
	if q.HeartbeatInterval <= 0 {
		return NewValidationError("queue", "heartbeat_interval", fmt.Errorf("must be positive"))
	}
	if q.OrphanThreshold <= q.HeartbeatInterval {
		return NewValidationError("queue", "orphan_threshold",
			fmt.Errorf("must exceed heartbeat_interval (%s)", q.HeartbeatInterval))
	}
	if q.SweepInterval <= 0 {
		return NewValidationError("queue", "sweep_interval", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateRetention(r *RetentionConfig) error {
	if r.ExecutionRetentionDays < 1 {
		return NewValidationError("retention", "execution_retention_days", fmt.Errorf("must be at least 1"))
	}
	if r.AuditRetentionDays < 1 {
		return NewValidationError("retention", "audit_retention_days", fmt.Errorf("must be at least 1"))
	}
	if r.EventTTL <= 0 {
		return NewValidationError("retention", "event_ttl", fmt.Errorf("must be positive"))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateSecurity(s *SecurityConfig) error {
	// Key material comes from the environment; here we only check the
	// value decodes when present. main decides whether absence is fatal.
	if _, err := s.CredentialKey(); err != nil {
		return NewValidationError("security", "credential_key_env", err)
	}
	if s.Redaction != nil {
		for _, p := range s.Redaction.Patterns {
			if p.Name == "" {
				return NewValidationError("security", "redaction.patterns", fmt.Errorf("pattern name required"))
			}
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return NewValidationError("security", "redaction.patterns",
					fmt.Errorf("pattern '%s': %w", p.Name, err))
			}
		}
	}
	return nil
}

func validateLLM(l *LLMConfig) error {
	if l.BaseURL != "" {
		u, err := url.Parse(l.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return NewValidationError("llm", "base_url", fmt.Errorf("%w: %q", ErrInvalidValue, l.BaseURL))
		}
	}
	if l.Timeout <= 0 {
		return NewValidationError("llm", "timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateIaC(i *IaCConfig) error {
	if len(i.AllowedDomains) == 0 {
		return NewValidationError("iac", "allowed_domains", fmt.Errorf("at least one domain required"))
	}
	if i.FetchTimeout <= 0 {
		return NewValidationError("iac", "fetch_timeout", fmt.Errorf("must be positive"))
	}
	if i.MaxDocumentBytes < 1024 {
		return NewValidationError("iac", "max_document_bytes", fmt.Errorf("must be at least 1024"))
	}
	return nil
}
