package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SESSION_TTL", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("expected default session TTL, got %s", cfg.SessionTTL)
	}
	if cfg.DirectBooking {
		t.Fatalf("expected direct booking disabled by default")
	}
	if cfg.MaxIdentityFails != 3 {
		t.Fatalf("expected 3 identity failures by default, got %d", cfg.MaxIdentityFails)
	}
	if cfg.DirectoryTimeout != 10*time.Second {
		t.Fatalf("expected default directory timeout, got %s", cfg.DirectoryTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("DIRECT_BOOKING", "true")
	t.Setenv("DIRECTORY_RETRY_ATTEMPTS", "5")
	t.Setenv("SMS_PROVIDER", "LOG")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.SessionTTL != 15*time.Minute {
		t.Fatalf("expected session TTL override, got %s", cfg.SessionTTL)
	}
	if !cfg.DirectBooking {
		t.Fatalf("expected direct booking override")
	}
	if cfg.RetryAttempts != 5 {
		t.Fatalf("expected retry attempts override, got %d", cfg.RetryAttempts)
	}
	if cfg.SMSProvider != "log" {
		t.Fatalf("expected normalized sms provider, got %s", cfg.SMSProvider)
	}
}
