package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reeler/internal/config"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Quota.DailyLimit != 3 {
		t.Fatalf("expected default daily limit 3, got %d", cfg.Quota.DailyLimit)
	}
	if cfg.Quota.Timezone != "UTC" {
		t.Fatalf("expected default timezone UTC, got %q", cfg.Quota.Timezone)
	}
	if cfg.Workers.LaunchAttempts != 2 {
		t.Fatalf("expected default launch attempts 2, got %d", cfg.Workers.LaunchAttempts)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[quota]
daily_limit = 5
timezone = "America/New_York"

[stages]
fetcher_url = "http://fetch.local/"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved existing path %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Quota.DailyLimit != 5 {
		t.Fatalf("daily limit = %d, want 5", cfg.Quota.DailyLimit)
	}
	if strings.HasSuffix(cfg.Stages.FetcherURL, "/") {
		t.Fatalf("fetcher URL not normalized: %q", cfg.Stages.FetcherURL)
	}
	if cfg.QuotaLocation().String() != "America/New_York" {
		t.Fatalf("quota location = %s", cfg.QuotaLocation())
	}
}

func TestValidateRejectsBadQuota(t *testing.T) {
	cfg := config.Default()
	cfg.Quota.DailyLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero daily limit")
	}

	cfg = config.Default()
	cfg.Quota.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown timezone")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error when sample config already exists")
	}
}
