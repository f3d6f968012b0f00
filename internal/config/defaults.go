package config

const (
	defaultStagingDir        = "~/.local/share/reeler/staging"
	defaultLogDir            = "~/.local/share/reeler/logs"
	defaultAPIBind           = "127.0.0.1:7519"
	defaultDailyLimit        = 3
	defaultTimezone          = "UTC"
	defaultStageTimeout      = 600
	defaultStageRetryLimit   = 3
	defaultStageRetryBackoff = 30
	defaultRunInterval       = 3600
	defaultLaunchAttempts    = 2
	defaultWorkerBackoff     = 15
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultHardTimeout       = 3600
	defaultAwaitPollInterval = 2
	defaultStageTimeoutHTTP  = 60
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Quota: Quota{
			DailyLimit: defaultDailyLimit,
			Timezone:   defaultTimezone,
		},
		Stages: Stages{
			RequestTimeout: defaultStageTimeoutHTTP,
		},
		Workers: Workers{
			LaunchAttempts:    defaultLaunchAttempts,
			RetryBackoff:      defaultWorkerBackoff,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			HardTimeout:       defaultHardTimeout,
			AwaitPollInterval: defaultAwaitPollInterval,
		},
		Workflow: Workflow{
			RunInterval:       defaultRunInterval,
			StageTimeout:      defaultStageTimeout,
			StageRetryLimit:   defaultStageRetryLimit,
			StageRetryBackoff: defaultStageRetryBackoff,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Runs:           true,
			Jobs:           true,
			Quota:          true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
