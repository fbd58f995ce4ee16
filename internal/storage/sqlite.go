//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SetReminder(ctx context.Context, owner int64, id int, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty reminder record")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(owner_id, id, data, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(owner_id, id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		owner, id, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ClearReminder(ctx context.Context, owner int64, id int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE owner_id = ? AND id = ?`, owner, id)
	return err
}

func (s *sqliteStore) ListReminders(ctx context.Context, owner int64) (map[int][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM reminders WHERE owner_id = ?`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int][]byte{}
	for rows.Next() {
		var id int
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		out[id] = data
	}
	return out, rows.Err()
}

func (s *sqliteStore) Owners(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM reminders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var owner int64
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UserTimezone(ctx context.Context, user int64) (string, bool, error) {
	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT tz FROM user_timezones WHERE user_id = ?`, user).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tz, true, nil
}

func (s *sqliteStore) SetUserTimezone(ctx context.Context, user int64, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM user_timezones WHERE user_id = ?`, user)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_timezones(user_id, tz) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET tz=excluded.tz`,
		user, tz,
	)
	return err
}
