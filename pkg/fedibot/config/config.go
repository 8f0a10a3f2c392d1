// Package config defines and loads the bot configuration.
package config

// Config holds all bot configuration.
type Config struct {
	// Instance is the fediverse instance the bot account lives on.
	Instance InstanceConfig `yaml:"instance"`

	// Bot configures mention handling.
	Bot BotConfig `yaml:"bot"`

	// AI configures the generative backend.
	AI AIConfig `yaml:"ai"`

	// Database configures persistent state.
	Database DatabaseConfig `yaml:"database"`

	// Media configures the remote media cache.
	Media MediaConfig `yaml:"media"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// InstanceConfig identifies the instance and credentials.
type InstanceConfig struct {
	// URL is the instance base URL (e.g. "https://example.social").
	URL string `yaml:"url"`

	// Token is the API access token for the bot account.
	// Prefer ${FEDIBOT_INSTANCE_TOKEN} or the keyring/vault over a
	// plaintext value here.
	Token string `yaml:"token"`
}

// BotConfig configures the dispatcher.
type BotConfig struct {
	// AccountID optionally pins the bot's own account id. Empty means
	// resolve it from the instance at startup.
	AccountID string `yaml:"account_id"`

	// OpenCommands lets any account run slash commands when true.
	// Default false: commands require authorization like everything else.
	OpenCommands bool `yaml:"open_commands"`

	// Workers is the number of concurrent event tasks.
	Workers int `yaml:"workers"`

	// QueueSize bounds the pending-event queue.
	QueueSize int `yaml:"queue_size"`
}

// AIConfig configures the Gemini backend.
type AIConfig struct {
	// APIKey authenticates against the Gemini API.
	// Prefer ${FEDIBOT_AI_API_KEY} or the keyring/vault.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier.
	Model string `yaml:"model"`

	// Temperature is the sampling temperature.
	Temperature float32 `yaml:"temperature"`

	// TimeoutSeconds bounds each generation call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DatabaseConfig configures the SQLite state file.
type DatabaseConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`
}

// MediaConfig configures the media resolution cache.
type MediaConfig struct {
	// TTLMinutes is how long resolved media stays cached.
	TTLMinutes int `yaml:"ttl_minutes"`

	// FetchTimeoutSeconds bounds each remote fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`

	// PruneSchedule is the cron spec for the expired-entry sweep.
	PruneSchedule string `yaml:"prune_schedule"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Workers:   4,
			QueueSize: 64,
		},
		AI: AIConfig{
			Model:          "gemini-1.5-pro",
			Temperature:    1.25,
			TimeoutSeconds: 120,
		},
		Database: DatabaseConfig{
			Path: "./data/fedibot.db",
		},
		Media: MediaConfig{
			TTLMinutes:          60,
			FetchTimeoutSeconds: 30,
			PruneSchedule:       "@every 10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
