package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQuota()
	c.normalizeStages()
	c.normalizeWorkers()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	expanded, err := expandPath(c.Paths.StagingDir)
	if err != nil {
		return fmt.Errorf("staging_dir: %w", err)
	}
	c.Paths.StagingDir = expanded

	expanded, err = expandPath(c.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}
	c.Paths.LogDir = expanded

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeQuota() {
	c.Quota.Timezone = strings.TrimSpace(c.Quota.Timezone)
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = defaultTimezone
	}
}

func (c *Config) normalizeStages() {
	c.Stages.FetcherURL = strings.TrimRight(strings.TrimSpace(c.Stages.FetcherURL), "/")
	c.Stages.ScripterURL = strings.TrimRight(strings.TrimSpace(c.Stages.ScripterURL), "/")
	c.Stages.VoicerURL = strings.TrimRight(strings.TrimSpace(c.Stages.VoicerURL), "/")
	c.Stages.APIKey = strings.TrimSpace(c.Stages.APIKey)
	if c.Stages.RequestTimeout <= 0 {
		c.Stages.RequestTimeout = defaultStageTimeoutHTTP
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.LaunchAttempts <= 0 {
		c.Workers.LaunchAttempts = defaultLaunchAttempts
	}
	if c.Workers.RetryBackoff <= 0 {
		c.Workers.RetryBackoff = defaultWorkerBackoff
	}
	if c.Workers.HeartbeatInterval <= 0 {
		c.Workers.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workers.HeartbeatTimeout <= 0 {
		c.Workers.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workers.HardTimeout <= 0 {
		c.Workers.HardTimeout = defaultHardTimeout
	}
	if c.Workers.AwaitPollInterval <= 0 {
		c.Workers.AwaitPollInterval = defaultAwaitPollInterval
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.RunInterval <= 0 {
		c.Workflow.RunInterval = defaultRunInterval
	}
	if c.Workflow.StageTimeout <= 0 {
		c.Workflow.StageTimeout = defaultStageTimeout
	}
	if c.Workflow.StageRetryLimit <= 0 {
		c.Workflow.StageRetryLimit = defaultStageRetryLimit
	}
	if c.Workflow.StageRetryBackoff <= 0 {
		c.Workflow.StageRetryBackoff = defaultStageRetryBackoff
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}
