package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage controls the persistence layer. Reminders must survive restarts,
	// so unlike most sections this one has no "disabled" mode; omitting it
	// selects the file driver with a default path.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Scheduler controls the due-reminder scan loop and processing pool.
	Scheduler SchedulerConfig `json:"scheduler"`

	Reminders RemindersConfig `json:"reminders,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OperatorUserIDs may run owner-only commands (including command-kind
	// reminders that invoke them on a schedule).
	OperatorUserIDs []int64 `json:"operator_user_ids"`

	// GroupLog is the optional chat for the telegram log sink,
	// formatted "chatID" or "@channelname".
	GroupLog string `json:"group_log"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./remindbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the reminder firing loop.
//
// All durations are Go duration strings (e.g. "500ms", "15s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick: "15s"
//   - workers: 4
//   - queue_size: 64
//   - process_timeout: "45s"
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Tick is the due-scan interval. Fire precision is bounded by it.
	Tick string `json:"tick,omitempty"`

	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// ProcessTimeout bounds a single reminder delivery (lookups + send).
	// A timed-out delivery is treated as failed and the reminder is dropped.
	ProcessTimeout string `json:"process_timeout,omitempty"`

	// DefaultTimezone applies to users who never set one (IANA name).
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

// RemindersConfig controls per-user limits and attachment fetching.
type RemindersConfig struct {
	// MaxPerUser caps stored reminders per owner. 0 means the default (25).
	MaxPerUser int `json:"max_per_user,omitempty"`

	// FetchTimeout bounds a single attachment download at fire time.
	FetchTimeout string `json:"fetch_timeout,omitempty"`

	// FetchMaxBytes caps a single attachment download. 0 means 8 MiB.
	FetchMaxBytes int64 `json:"fetch_max_bytes,omitempty"`
}
