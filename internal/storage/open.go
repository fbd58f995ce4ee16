package storage

import (
	"context"
	"errors"
	"strings"

	logx "remindbot/pkg/logx"
)

// Store is the persistence API used by the reminder cache and commands.
//
// Records are opaque JSON; callers own the schema. ClearReminder of an
// absent record is a no-op, SetReminder of an existing one overwrites.
type Store interface {
	SetReminder(ctx context.Context, owner int64, id int, data []byte) error
	ClearReminder(ctx context.Context, owner int64, id int) error
	ListReminders(ctx context.Context, owner int64) (map[int][]byte, error)
	Owners(ctx context.Context) ([]int64, error)

	UserTimezone(ctx context.Context, user int64) (tz string, ok bool, err error)
	SetUserTimezone(ctx context.Context, user int64, tz string) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
