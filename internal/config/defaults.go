package config

const (
	defaultIncomingDir        = "~/.local/share/cardiolink/incoming"
	defaultOutputDir          = "~/.local/share/cardiolink/recordings"
	defaultStagingDir         = "~/.local/share/cardiolink/staging"
	defaultLogDir             = "~/.local/share/cardiolink/logs"
	defaultWindowTolerance    = 30
	defaultDateTokenLocale    = "fr"
	defaultRemoteTimeout      = 30
	defaultNotifyTimeout      = 10
	defaultPollInterval       = 5
	defaultSettleSeconds      = 10
	defaultErrorRetryInterval = 10
	defaultOperationTimeout   = 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			IncomingDir: defaultIncomingDir,
			OutputDir:   defaultOutputDir,
			StagingDir:  defaultStagingDir,
			LogDir:      defaultLogDir,
		},
		Matching: Matching{
			WindowToleranceMinutes: defaultWindowTolerance,
			DateTokenLocale:        defaultDateTokenLocale,
		},
		Remote: Remote{
			RequestTimeout: defaultRemoteTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Sessions:       true,
			Errors:         true,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			SettleSeconds:      defaultSettleSeconds,
			ErrorRetryInterval: defaultErrorRetryInterval,
			OperationTimeout:   defaultOperationTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
