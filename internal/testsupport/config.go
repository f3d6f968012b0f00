package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"reeler/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.StageRetryBackoff = 0

	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithDailyLimit overrides the quota limit on the test config.
func WithDailyLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Quota.DailyLimit = limit
	}
}

// WithAPIToken sets the worker callback bearer token.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}
