package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Quota contains the daily completion quota settings.
type Quota struct {
	// DailyLimit is the maximum number of jobs allowed to complete per
	// calendar day in the configured timezone.
	DailyLimit int `toml:"daily_limit"`
	// Timezone is the IANA zone name used to determine the current day
	// for quota accounting. Defaults to UTC.
	Timezone string `toml:"timezone"`
}

// Stages contains connection settings for the external content services.
type Stages struct {
	FetcherURL     string `toml:"fetcher_url"`
	ScripterURL    string `toml:"scripter_url"`
	VoicerURL      string `toml:"voicer_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workers contains launch commands and timing for ephemeral render/publish workers.
type Workers struct {
	// RenderCommand and UploadCommand are argv vectors used to provision a
	// worker for the respective stage. The job id, stage, task token, and
	// callback address are passed through the environment.
	RenderCommand []string `toml:"render_command"`
	UploadCommand []string `toml:"upload_command"`

	LaunchAttempts    int `toml:"launch_attempts"`
	RetryBackoff      int `toml:"retry_backoff"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	HardTimeout       int `toml:"hard_timeout"`
	AwaitPollInterval int `toml:"await_poll_interval"`
}

// Workflow contains orchestration timing and retry configuration.
type Workflow struct {
	RunInterval       int `toml:"run_interval"`
	StageTimeout      int `toml:"stage_timeout"`
	StageRetryLimit   int `toml:"stage_retry_limit"`
	StageRetryBackoff int `toml:"stage_retry_backoff"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Runs           bool   `toml:"runs"`
	Jobs           bool   `toml:"jobs"`
	Quota          bool   `toml:"quota"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for reeler.
//
// Configuration sections by subsystem:
//   - Paths: directories plus the worker callback API bind address
//   - Quota: daily completion quota and accounting timezone
//   - Stages: fetch/script/voice service connection settings
//   - Workers: ephemeral worker launch commands and heartbeat timing
//   - Workflow: scheduler interval, stage timeouts, retry policy
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Quota         Quota         `toml:"quota"`
	Stages        Stages        `toml:"stages"`
	Workers       Workers       `toml:"workers"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reeler/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reeler.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StagingDir, c.Paths.LogDir}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the pipeline SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.LogDir, "pipeline.db")
}

// SocketPath returns the unix socket used for CLI daemon control.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "reeler.sock")
}

// WriteSample writes the annotated sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}
