package config

// Config is the on-disk configuration. Every duration is a Go duration
// string ("500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Commands CommandsConfig `json:"commands"`
}

type TelegramConfig struct {
	// Token may be left empty when BUMPBOT_TOKEN is set.
	Token string `json:"token"`
	// BotUsername overrides the handle reported by Telegram (without '@').
	BotUsername string `json:"bot_username,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// GroupLog is the chat id that receives forwarded WARN+ log lines.
	GroupLog string `json:"group_log,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend for scheduled bumps.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/bumps.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" | "sqlite" | "none"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DispatchConfig controls the tick loop that delivers due bumps.
//
// Defaults (when omitted/zero):
//   - spec: "* * * * * *" (every second)
//   - bump_text: "bump"
//   - delivery_timeout: "10s"
//   - retry_max: 2
//   - retry_base: "250ms"
//   - rate_per_sec: 20
type DispatchConfig struct {
	// Enabled is a pointer so an omitted key means "on".
	Enabled         *bool  `json:"enabled,omitempty"`
	Spec            string `json:"spec,omitempty"`
	BumpText        string `json:"bump_text,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	// RetryMax is a pointer so an omitted key means 2 and 0 turns retries off.
	RetryMax        *int   `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
}

// CommandsConfig controls inbound command handling.
type CommandsConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	// IgnoreStale drops commands sent before the process started.
	// Pointer so an omitted key means "on".
	IgnoreStale *bool `json:"ignore_stale,omitempty"`
}

// DispatchEnabled reports dispatch.enabled, defaulting to true.
func (c *Config) DispatchEnabled() bool {
	return c.Dispatch.Enabled == nil || *c.Dispatch.Enabled
}

// DispatchRetryMax reports dispatch.retry_max, defaulting to 2.
func (c *Config) DispatchRetryMax() int {
	if c.Dispatch.RetryMax == nil {
		return 2
	}
	return *c.Dispatch.RetryMax
}

// IgnoreStale reports commands.ignore_stale, defaulting to true.
func (c *Config) IgnoreStale() bool {
	return c.Commands.IgnoreStale == nil || *c.Commands.IgnoreStale
}
