package config

const (
	defaultConfigPath             = "~/.config/stepdeck/config.toml"
	defaultStateDir               = "~/.local/share/stepdeck"
	defaultLogDir                 = "~/.local/share/stepdeck/logs"
	defaultPipelineURL            = "http://127.0.0.1:5000"
	defaultPipelineRequestTimeout = 30
	defaultPollIntervalMs         = 2000
	defaultFastPollIntervalMs     = 200
	defaultPollMaxErrors          = 3
	defaultWaitIntervalMs         = defaultPollIntervalMs / 2
	defaultTimerIntervalMs        = 1000
	defaultCancelGraceAttempts    = 3
	defaultCancelGraceIntervalMs  = 500
	defaultMessageLimit           = 200
	defaultNotifyRequestTimeout   = 10
	defaultHistoryRetentionDays   = 90
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	envPipelineURL                = "STEPDECK_PIPELINE_URL"
	envPipelineToken              = "STEPDECK_API_TOKEN"
	envNtfyTopic                  = "STEPDECK_NTFY_TOPIC"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			BaseURL:        defaultPipelineURL,
			RequestTimeout: defaultPipelineRequestTimeout,
		},
		Polling: Polling{
			IntervalMs:      defaultPollIntervalMs,
			FastIntervalMs:  defaultFastPollIntervalMs,
			MaxErrors:       defaultPollMaxErrors,
			WaitIntervalMs:  defaultWaitIntervalMs,
			TimerIntervalMs: defaultTimerIntervalMs,
		},
		Monitoring: Monitoring{
			CancelGraceAttempts:   defaultCancelGraceAttempts,
			CancelGraceIntervalMs: defaultCancelGraceIntervalMs,
			MessageLimit:          defaultMessageLimit,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			StepCompleted:  true,
			StepFailed:     true,
			Sequences:      true,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
