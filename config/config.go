package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	DatabaseURL string

	// Redis (summary cache); empty disables caching
	RedisAddr string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Read-side cache
	SummaryTTL time.Duration
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		TokenTTL:    getEnvDuration("TOKEN_TTL", 8*time.Hour),
		SummaryTTL:  getEnvDuration("SUMMARY_TTL", 30*time.Second),
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	} else if parsed, err := url.Parse(c.DatabaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("invalid DATABASE_URL: %v", err))
	} else if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		errs = append(errs, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", parsed.Scheme))
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}

	if c.TokenTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid token TTL %v: must be at least 1 minute", c.TokenTTL))
	} else if c.TokenTTL > 7*24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid token TTL %v: must be at most 7 days", c.TokenTTL))
	}

	if c.SummaryTTL < time.Second {
		errs = append(errs, fmt.Sprintf("invalid summary TTL %v: must be at least 1 second", c.SummaryTTL))
	} else if c.SummaryTTL > time.Hour {
		errs = append(errs, fmt.Sprintf("invalid summary TTL %v: must be at most 1 hour", c.SummaryTTL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
