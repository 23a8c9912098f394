// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CredBackend selects the credential-store implementation.
type CredBackend string

const (
	CredBackendFile CredBackend = "file"
	CredBackendDB   CredBackend = "db"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	JWTSecret   string

	CredBackend CredBackend
	CredDir     string

	ReconnectDelay time.Duration
	QRCodeTTL      time.Duration

	CleanupInterval  time.Duration
	CleanupThreshold time.Duration
	HealthInterval   time.Duration
	DisconnectGrace  time.Duration

	ProblemAttemptThreshold int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/warelay.db"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		CredBackend: CredBackend(getEnv("CRED_BACKEND", string(CredBackendFile))),
		CredDir:     getEnv("CRED_DIR", "./data/credentials"),

		ReconnectDelay: getEnvDuration("RECONNECT_DELAY", 5*time.Second),
		QRCodeTTL:      getEnvDuration("QR_CODE_TTL", 60*time.Second),

		CleanupInterval:  getEnvDuration("CLEANUP_INTERVAL", 12*time.Hour),
		CleanupThreshold: getEnvDuration("CLEANUP_THRESHOLD", 30*24*time.Hour),
		HealthInterval:   getEnvDuration("HEALTH_INTERVAL", 2*time.Minute),
		DisconnectGrace:  getEnvDuration("DISCONNECT_GRACE", 5*time.Minute),

		ProblemAttemptThreshold: getEnvInt("PROBLEM_ATTEMPT_THRESHOLD", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	switch c.CredBackend {
	case CredBackendFile, CredBackendDB:
	default:
		return fmt.Errorf("CRED_BACKEND must be %q or %q", CredBackendFile, CredBackendDB)
	}
	if c.CredBackend == CredBackendFile && c.CredDir == "" {
		return fmt.Errorf("CRED_DIR cannot be empty with the file credential backend")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be > 0")
	}
	if c.QRCodeTTL <= 0 {
		return fmt.Errorf("QR_CODE_TTL must be > 0")
	}
	if c.CleanupThreshold <= 0 {
		return fmt.Errorf("CLEANUP_THRESHOLD must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
