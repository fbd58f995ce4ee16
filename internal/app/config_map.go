package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	// Reminders must survive restarts, so storage has no disabled mode;
	// an omitted section means the file driver with its default path.
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationField("scheduler.tick", sc.Tick)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationField("scheduler.process_timeout", sc.ProcessTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if sc.Workers < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	if sc.QueueSize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.queue_size must be >= 0")
	}
	return scheduler.Config{
		Tick:           tick,
		Workers:        sc.Workers,
		QueueSize:      sc.QueueSize,
		ProcessTimeout: timeout,
	}, nil
}

func defaultLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.DefaultTimezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.default_timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapLoggingConfig(cfg *config.Config, telegramEnabled bool) logxConfig {
	return logxConfig{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logxFileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logxTelegramConfig{
			Enabled:    telegramEnabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}
