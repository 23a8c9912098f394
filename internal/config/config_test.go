package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CredBackend != CredBackendFile {
		t.Errorf("Expected file backend default, got %s", cfg.CredBackend)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("Expected 5s reconnect delay, got %s", cfg.ReconnectDelay)
	}
	if cfg.QRCodeTTL != 60*time.Second {
		t.Errorf("Expected 60s QR TTL, got %s", cfg.QRCodeTTL)
	}
	if cfg.CleanupThreshold != 30*24*time.Hour {
		t.Errorf("Expected 30d cleanup threshold, got %s", cfg.CleanupThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CRED_BACKEND", "db")
	t.Setenv("RECONNECT_DELAY", "250ms")
	t.Setenv("PROBLEM_ATTEMPT_THRESHOLD", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.CredBackend != CredBackendDB {
		t.Errorf("Expected db backend, got %s", cfg.CredBackend)
	}
	if cfg.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms reconnect delay, got %s", cfg.ReconnectDelay)
	}
	if cfg.ProblemAttemptThreshold != 5 {
		t.Errorf("Expected threshold 5, got %d", cfg.ProblemAttemptThreshold)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("Expected error without JWT_SECRET")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("CRED_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown credential backend")
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("RECONNECT_DELAY", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("Expected fallback 5s, got %s", cfg.ReconnectDelay)
	}
}

func TestIsDevelopment(t *testing.T) {
	cases := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://relay.example.com", false},
	}
	for _, tc := range cases {
		cfg := &Config{FrontendURL: tc.frontendURL}
		if cfg.IsDevelopment() != tc.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tc.frontendURL, !tc.want, tc.want)
		}
	}
}
