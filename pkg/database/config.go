package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv reads the DB_* environment variables, applying
// defaults suitable for local development.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:            envOr("DB_HOST", "localhost"),
		User:            envOr("DB_USER", "remedy"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        envOr("DB_NAME", "remedy"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	var err error
	if cfg.Port, err = envInt("DB_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.MaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		return Config{}, err
	}
	if cfg.MaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
