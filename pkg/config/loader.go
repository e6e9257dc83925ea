package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// remedyYAML mirrors the remedy.yaml file structure. Every section is
// optional; missing sections fall back to built-in defaults.
type remedyYAML struct {
	Server        *ServerConfig        `yaml:"server"`
	Queue         *QueueConfig         `yaml:"queue"`
	Notifications *NotificationsConfig `yaml:"notifications"`
	Retention     *RetentionConfig     `yaml:"retention"`
	Security      *SecurityConfig      `yaml:"security"`
	LLM           *LLMConfig           `yaml:"llm"`
	IaC           *IaCConfig           `yaml:"iac"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read remedy.yaml from configDir (absent file means pure defaults)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into section structs
//  4. Merge user values over built-in defaults
//  5. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"port", cfg.Server.Port,
		"workers", cfg.Queue.WorkerCount,
		"llm_configured", cfg.LLM.Configured(),
		"slack_enabled", cfg.Notifications.Slack.IsEnabled())

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var raw remedyYAML
	if err := loadYAML(filepath.Join(configDir, "remedy.yaml"), &raw); err != nil {
		return nil, NewLoadError("remedy.yaml", err)
	}

	cfg := &Config{
		configDir:     configDir,
		Server:        DefaultServerConfig(),
		Queue:         DefaultQueueConfig(),
		Notifications: &NotificationsConfig{Slack: &SlackConfig{}},
		Retention:     DefaultRetentionConfig(),
		Security:      DefaultSecurityConfig(),
		LLM:           DefaultLLMConfig(),
		IaC:           DefaultIaCConfig(),
	}

	// Merge user values on top of defaults; non-zero user fields win.
	sections := []struct {
		name string
		dst  any
		src  any
	}{
		{"server", cfg.Server, raw.Server},
		{"queue", cfg.Queue, raw.Queue},
		{"notifications", cfg.Notifications, raw.Notifications},
		{"retention", cfg.Retention, raw.Retention},
		{"security", cfg.Security, raw.Security},
		{"llm", cfg.LLM, raw.LLM},
		{"iac", cfg.IaC, raw.IaC},
	}
	for _, s := range sections {
		if isNil(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}

	if cfg.Notifications.Slack == nil {
		cfg.Notifications.Slack = &SlackConfig{}
	}
	return cfg, nil
}

func isNil(v any) bool {
	switch s := v.(type) {
	case *ServerConfig:
		return s == nil
	case *QueueConfig:
		return s == nil
	case *NotificationsConfig:
		return s == nil
	case *RetentionConfig:
		return s == nil
	case *SecurityConfig:
		return s == nil
	case *LLMConfig:
		return s == nil
	case *IaCConfig:
		return s == nil
	}
	return v == nil
}

// loadYAML reads one YAML file, expands {{.VAR}} references against the
// environment, and decodes into target. A missing file is not an error:
// the engine runs fine on built-in defaults plus environment variables.
func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("Config file not found, using built-in defaults", "path", path)
			return nil
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}
