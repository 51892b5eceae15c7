package config

const (
	defaultConfigPath                = "~/.config/genfetch/config.toml"
	defaultStateDir                  = "~/.local/share/genfetch"
	defaultOutputDir                 = "~/genfetch/assets"
	defaultLogDir                    = "~/.local/share/genfetch/logs"
	defaultBackupDir                 = "~/.local/share/genfetch/backups"
	defaultRemoteBaseURL             = "http://127.0.0.1:8787/api"
	defaultRemoteTimeoutSeconds      = 30
	defaultRemoteRetryAttempts       = 4
	defaultRemotePollIntervalMillis  = 1000
	defaultMaxLeases                 = 8
	defaultMaxIdleConnsPerHost       = 8
	defaultQuoteTimeoutSeconds       = 30
	defaultMaxVariations             = 4
	defaultMaxRetries                = 6
	defaultRetryTimeoutSeconds       = 30
	defaultMaxRetryTimeoutSeconds    = 240
	defaultStatusCheckTimeoutSeconds = 5
	defaultNotifyRequestTimeout      = 10
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

var defaultMaterialChannels = []string{"albedo", "normal", "height", "roughness"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			BackupDir: defaultBackupDir,
		},
		Remote: Remote{
			BaseURL:               defaultRemoteBaseURL,
			RequestTimeoutSeconds: defaultRemoteTimeoutSeconds,
			RetryAttempts:         defaultRemoteRetryAttempts,
			PollIntervalMillis:    defaultRemotePollIntervalMillis,
		},
		Transport: Transport{
			MaxLeases:           defaultMaxLeases,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		},
		Quote: Quote{
			TimeoutSeconds: defaultQuoteTimeoutSeconds,
		},
		Generation: Generation{
			MaxVariations:           defaultMaxVariations,
			DefaultMaterialChannels: append([]string(nil), defaultMaterialChannels...),
		},
		Download: Download{
			MaxRetries:                defaultMaxRetries,
			RetryTimeoutSeconds:       defaultRetryTimeoutSeconds,
			MaxRetryTimeoutSeconds:    defaultMaxRetryTimeoutSeconds,
			StatusCheckTimeoutSeconds: defaultStatusCheckTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
