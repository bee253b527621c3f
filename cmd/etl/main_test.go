package main

import (
	"errors"
	"flag"
	"testing"
	"time"
)

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ETL_TARGET", "25")
	t.Setenv("ETL_DATABASE_DRIVER", "sqlite")
	t.Setenv("ETL_DATABASE_URL", "file:books.db")

	cfg, err := loadConfig([]string{"-target", "40", "-every", "24h", "-format", "JSON"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.TargetCount != 40 {
		t.Fatalf("target = %d, want 40", cfg.TargetCount)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabaseURL != "file:books.db" {
		t.Fatalf("database = %s %s", cfg.DatabaseDriver, cfg.DatabaseURL)
	}
	if cfg.Interval != 24*time.Hour {
		t.Fatalf("interval = %s, want 24h", cfg.Interval)
	}
	if cfg.ExportFormat != "json" {
		t.Fatalf("format = %q, want json", cfg.ExportFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("ETL_MAX_PAGES", "many")
	if _, err := loadConfig(nil); err == nil {
		t.Fatalf("expected error for non-numeric ETL_MAX_PAGES")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.TargetCount != 10 || cfg.Retries != 1 || cfg.RetryDelay != 5*time.Minute || cfg.Interval != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigHelpIsNotAFailure(t *testing.T) {
	_, err := loadConfig([]string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
}
