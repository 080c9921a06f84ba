package app

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"bumpbot/internal/commands"
	"bumpbot/internal/config"
	"bumpbot/internal/dispatch"
	"bumpbot/internal/storage"
	logx "bumpbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// groupLogChat returns the log chat id, or 0 when unset. Validate has
// already rejected non-numeric values.
func groupLogChat(cfg *config.Config) int64 {
	gl := strings.TrimSpace(cfg.Telegram.GroupLog)
	if gl == "" {
		return 0
	}
	id, err := strconv.ParseInt(gl, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{Driver: "none"}, nil
	case "file":
		if path == "" {
			path = "./data/bumps.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = "./data/bumps.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, storage.ErrUnknownDriver
	}
}

// warnVolatileStorage flags a config that keeps bumps in memory only.
func warnVolatileStorage(log logx.Logger, sc storage.Config) bool {
	if sc.Driver != "none" {
		return false
	}
	log.Warn("storage driver is none; scheduled bumps are lost on restart (set storage.driver to file or sqlite)")
	return true
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := cfg.Dispatch
	timeout, err := config.ParseDurationOrDefault("dispatch.delivery_timeout", dc.DeliveryTimeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	base, err := config.ParseDurationOrDefault("dispatch.retry_base", dc.RetryBase, 250*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:         cfg.DispatchEnabled(),
		Spec:            dc.Spec,
		BumpText:        dc.BumpText,
		DeliveryTimeout: timeout,
		RetryMax:        cfg.DispatchRetryMax(),
		RetryBase:       base,
		RatePerSec:      dc.RatePerSec,
	}, nil
}

func mapCommandsConfig(cfg *config.Config) (commands.Config, error) {
	cc := cfg.Commands
	timeout, err := config.ParseDurationOrDefault("commands.timeout", cc.Timeout, 15*time.Second)
	if err != nil {
		return commands.Config{}, err
	}
	return commands.Config{
		Workers:     cc.Workers,
		QueueSize:   cc.QueueSize,
		Timeout:     timeout,
		IgnoreStale: cfg.IgnoreStale(),
	}, nil
}

// changedSections names the top-level config sections that differ.
func changedSections(old, cur *config.Config) []string {
	if old == nil || cur == nil {
		return nil
	}
	var out []string
	if !reflect.DeepEqual(old.Telegram, cur.Telegram) {
		out = append(out, "telegram")
	}
	if !reflect.DeepEqual(old.Logging, cur.Logging) {
		out = append(out, "logging")
	}
	if !reflect.DeepEqual(old.Storage, cur.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(old.Dispatch, cur.Dispatch) {
		out = append(out, "dispatch")
	}
	if !reflect.DeepEqual(old.Commands, cur.Commands) {
		out = append(out, "commands")
	}
	return out
}
