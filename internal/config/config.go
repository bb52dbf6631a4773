// Package config loads service configuration from the environment once at
// startup. Construction fails fast on invalid values; nothing in here is a
// process-wide singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything cmd/api needs to wire the service together.
type Config struct {
	ListenAddr string
	PGDSN      string
	LogLevel   string

	TokenSecret    string
	TokenAlgorithm string
	TokenTTL       time.Duration
	TokenIssuer    string

	MaxLoginAttempts int
	LockoutDuration  time.Duration

	ServiceName string
	DefaultRole string

	RateBurst     int
	RatePerSecond int
}

// Load reads configuration from IDENTITY_* environment variables. The token
// secret is the only hard requirement; everything else has a usable default.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:     envOr("IDENTITY_LISTEN_ADDR", ":8080"),
		PGDSN:          os.Getenv("IDENTITY_PG_DSN"),
		LogLevel:       envOr("IDENTITY_LOG_LEVEL", "info"),
		TokenSecret:    os.Getenv("IDENTITY_TOKEN_SECRET"),
		TokenAlgorithm: envOr("IDENTITY_TOKEN_ALGORITHM", "HS256"),
		TokenIssuer:    envOr("IDENTITY_TOKEN_ISSUER", "identity-api"),
		ServiceName:    envOr("IDENTITY_SERVICE_NAME", "identity"),
		DefaultRole:    envOr("IDENTITY_DEFAULT_ROLE", "user"),
	}

	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return Config{}, fmt.Errorf("IDENTITY_TOKEN_SECRET is required")
	}

	var err error
	if cfg.TokenTTL, err = envDuration("IDENTITY_TOKEN_TTL", 60*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.LockoutDuration, err = envDuration("IDENTITY_LOCKOUT_DURATION", 60*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.MaxLoginAttempts, err = envInt("IDENTITY_MAX_LOGIN_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = envInt("IDENTITY_RATE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSecond, err = envInt("IDENTITY_RATE_PER_SECOND", 10); err != nil {
		return Config{}, err
	}

	if cfg.MaxLoginAttempts <= 0 {
		return Config{}, fmt.Errorf("IDENTITY_MAX_LOGIN_ATTEMPTS must be positive")
	}
	if cfg.TokenTTL <= 0 || cfg.LockoutDuration <= 0 {
		return Config{}, fmt.Errorf("durations must be positive")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
