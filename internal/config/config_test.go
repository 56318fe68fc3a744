package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != defaultAddress {
		t.Fatalf("expected default address, got %q", cfg.Address)
	}
	if cfg.MaxFileSize != defaultMaxFileSize {
		t.Fatalf("expected default max file size, got %d", cfg.MaxFileSize)
	}
	if cfg.RetentionWindow != defaultRetention {
		t.Fatalf("expected default retention, got %s", cfg.RetentionWindow)
	}
	if len(cfg.SigningSecret) == 0 {
		t.Fatalf("expected a generated signing secret")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEPOT_ADDRESS", ":9999")
	t.Setenv("DEPOT_MAX_FILE_BYTES", "2048")
	t.Setenv("DEPOT_RETENTION_WINDOW", "48h")
	t.Setenv("DEPOT_SWEEP_INTERVAL", "10m")
	t.Setenv("DEPOT_JOURNAL_CAPACITY", "25")
	t.Setenv("DEPOT_SIGNING_SECRET", "fixed-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":9999" {
		t.Fatalf("expected address override, got %q", cfg.Address)
	}
	if cfg.MaxFileSize != 2048 {
		t.Fatalf("expected max file size 2048, got %d", cfg.MaxFileSize)
	}
	if cfg.RetentionWindow != 48*time.Hour {
		t.Fatalf("expected 48h retention, got %s", cfg.RetentionWindow)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Fatalf("expected 10m sweep interval, got %s", cfg.SweepInterval)
	}
	if cfg.JournalCapacity != 25 {
		t.Fatalf("expected journal capacity 25, got %d", cfg.JournalCapacity)
	}
	if string(cfg.SigningSecret) != "fixed-secret" {
		t.Fatalf("expected fixed signing secret")
	}
}

func TestLoadRejectsNonPositive(t *testing.T) {
	t.Setenv("DEPOT_MAX_FILE_BYTES", "-5")
	t.Setenv("DEPOT_RETENTION_WINDOW", "-1h")
	t.Setenv("DEPOT_WORKERS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxFileSize != defaultMaxFileSize {
		t.Fatalf("expected fallback max file size, got %d", cfg.MaxFileSize)
	}
	if cfg.RetentionWindow != defaultRetention {
		t.Fatalf("expected fallback retention, got %s", cfg.RetentionWindow)
	}
	if cfg.WorkerConcurrency != defaultConcurrency {
		t.Fatalf("expected fallback concurrency, got %d", cfg.WorkerConcurrency)
	}
}
