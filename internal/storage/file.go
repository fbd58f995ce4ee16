package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "remindbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of all state)
//   - <prefix>.journal.jsonl (append-only journal since last snapshot)
//
// The journal is periodically compacted into the snapshot. Full state is
// held in memory; reminder datasets are small (tens per owner).
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	reminders map[int64]map[int]json.RawMessage
	timezones map[int64]string

	writes int
}

const compactEvery = 500

type journalRecord struct {
	Op    string          `json:"op"` // set | del | tz
	Owner int64           `json:"owner"`
	ID    int             `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	TZ    string          `json:"tz,omitempty"`
}

type snapshot struct {
	Reminders map[string]map[string]json.RawMessage `json:"reminders"`
	Timezones map[string]string                     `json:"timezones"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./remindbot_store"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		reminders:    map[int64]map[int]json.RawMessage{},
		timezones:    map[int64]string{},
	}

	// Snapshot first, then replay journal writes on top of it.
	if err := s.loadSnapshot(snapPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage snapshot unreadable; starting from journal", logx.Any("err", err))
	}
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage journal replay incomplete", logx.Any("err", err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Compact on close so restarts start from a clean snapshot.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("storage compact on close failed", logx.Any("err", err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) SetReminder(ctx context.Context, owner int64, id int, data []byte) error {
	_ = ctx
	if len(data) == 0 {
		return errors.New("empty reminder record")
	}
	// Copy: callers may reuse the buffer.
	cp := make(json.RawMessage, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("storage closed")
	}
	m := s.reminders[owner]
	if m == nil {
		m = map[int]json.RawMessage{}
		s.reminders[owner] = m
	}
	m[id] = cp
	return s.appendLocked(journalRecord{Op: "set", Owner: owner, ID: id, Data: cp})
}

func (s *fileStore) ClearReminder(ctx context.Context, owner int64, id int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("storage closed")
	}
	m := s.reminders[owner]
	if m == nil {
		return nil
	}
	if _, ok := m[id]; !ok {
		return nil
	}
	delete(m, id)
	if len(m) == 0 {
		delete(s.reminders, owner)
	}
	return s.appendLocked(journalRecord{Op: "del", Owner: owner, ID: id})
}

func (s *fileStore) ListReminders(ctx context.Context, owner int64) (map[int][]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.reminders[owner]
	out := make(map[int][]byte, len(m))
	for id, data := range m {
		cp := make([]byte, len(data))
		copy(cp, data)
		out[id] = cp
	}
	return out, nil
}

func (s *fileStore) Owners(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.reminders))
	for owner := range s.reminders {
		out = append(out, owner)
	}
	return out, nil
}

func (s *fileStore) UserTimezone(ctx context.Context, user int64) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	tz, ok := s.timezones[user]
	return tz, ok, nil
}

func (s *fileStore) SetUserTimezone(ctx context.Context, user int64, tz string) error {
	_ = ctx
	tz = strings.TrimSpace(tz)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("storage closed")
	}
	if tz == "" {
		delete(s.timezones, user)
	} else {
		s.timezones[user] = tz
	}
	return s.appendLocked(journalRecord{Op: "tz", Owner: user, TZ: tz})
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{
		Reminders: make(map[string]map[string]json.RawMessage, len(s.reminders)),
		Timezones: make(map[string]string, len(s.timezones)),
	}
	for owner, m := range s.reminders {
		om := make(map[string]json.RawMessage, len(m))
		for id, data := range m {
			om[strconv.Itoa(id)] = data
		}
		snap.Reminders[strconv.FormatInt(owner, 10)] = om
	}
	for user, tz := range s.timezones {
		snap.Timezones[strconv.FormatInt(user, 10)] = tz
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal; its content is now in the snapshot.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for ownerStr, m := range snap.Reminders {
		owner, err := strconv.ParseInt(ownerStr, 10, 64)
		if err != nil {
			continue
		}
		om := make(map[int]json.RawMessage, len(m))
		for idStr, data := range m {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				continue
			}
			om[id] = data
		}
		if len(om) > 0 {
			s.reminders[owner] = om
		}
	}
	for userStr, tz := range snap.Timezones {
		user, err := strconv.ParseInt(userStr, 10, 64)
		if err != nil {
			continue
		}
		s.timezones[user] = tz
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal(line, &r); err != nil {
			// Torn tail write after a crash; ignore the rest.
			continue
		}
		switch r.Op {
		case "set":
			if len(r.Data) == 0 {
				continue
			}
			m := s.reminders[r.Owner]
			if m == nil {
				m = map[int]json.RawMessage{}
				s.reminders[r.Owner] = m
			}
			m[r.ID] = r.Data
		case "del":
			if m := s.reminders[r.Owner]; m != nil {
				delete(m, r.ID)
				if len(m) == 0 {
					delete(s.reminders, r.Owner)
				}
			}
		case "tz":
			if r.TZ == "" {
				delete(s.timezones, r.Owner)
			} else {
				s.timezones[r.Owner] = r.TZ
			}
		}
	}
	return sc.Err()
}
