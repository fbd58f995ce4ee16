package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/recurrence"
)

// Reminder is the primary entity: something to deliver at NextExpiresAt,
// optionally recurring. The (OwnerID, ID) pair is the storage identity;
// IDs are small integers unique per owner.
type Reminder struct {
	OwnerID int64
	ID      int

	// JumpURL links back to the message that created the reminder.
	JumpURL string
	Snooze  bool
	MeToo   bool

	Content Content

	// Destination is the delivery chat; 0 means the owner's private chat.
	Destination int64

	// Target is the party to notify when reminding someone else.
	Target *Target

	CreatedAt time.Time
	// ExpiresAt is the originally scheduled fire time.
	ExpiresAt time.Time
	// LastExpiresAt is the previous actual fire time; may lag ExpiresAt
	// when the process was down.
	LastExpiresAt time.Time
	// NextExpiresAt is the computed next fire time. Zero means the reminder
	// is non-recurring (or exhausted) and is deleted after firing once.
	NextExpiresAt time.Time

	Repeat recurrence.Set
}

type Target struct {
	ID      int64  `json:"id"`
	Mention string `json:"mention,omitempty"`
}

// Key returns the scheduler claim key for this reminder.
func (r *Reminder) Key() string {
	return fmt.Sprintf("%d#%d", r.OwnerID, r.ID)
}

// Clone returns a deep copy. The cache hands out clones so the firing path
// never shares mutable state with concurrent readers.
func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Target != nil {
		t := *r.Target
		cp.Target = &t
	}
	if r.Content.MessageAuthor != nil {
		a := *r.Content.MessageAuthor
		cp.Content.MessageAuthor = &a
	}
	if r.Content.Files != nil {
		files := make(map[string]string, len(r.Content.Files))
		for name, url := range r.Content.Files {
			files[name] = url
		}
		cp.Content.Files = files
	}
	if r.Repeat != nil {
		cp.Repeat = append(recurrence.Set(nil), r.Repeat...)
	}
	return &cp
}

// reminderWire is the storage schema. Timestamps are epoch seconds and
// falsy optional fields are omitted; old datasets used "intervals" for the
// repeat rules and both spellings decode.
type reminderWire struct {
	ID            int             `json:"id"`
	JumpURL       string          `json:"jump_url,omitempty"`
	Snooze        bool            `json:"snooze,omitempty"`
	MeToo         bool            `json:"me_too,omitempty"`
	Content       Content         `json:"content"`
	Destination   int64           `json:"destination,omitempty"`
	Target        *Target         `json:"target,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	ExpiresAt     int64           `json:"expires_at"`
	LastExpiresAt int64           `json:"last_expires_at,omitempty"`
	NextExpiresAt int64           `json:"next_expires_at"`
	Repeat        recurrence.Set  `json:"repeat,omitempty"`
	Intervals     json.RawMessage `json:"intervals,omitempty"`
}

// MarshalRecord serializes the reminder for storage.
func (r *Reminder) MarshalRecord() ([]byte, error) {
	w := reminderWire{
		ID:          r.ID,
		JumpURL:     r.JumpURL,
		Snooze:      r.Snooze,
		MeToo:       r.MeToo,
		Content:     r.Content,
		Destination: r.Destination,
		Target:      r.Target,
		CreatedAt:   epoch(r.CreatedAt),
		ExpiresAt:   epoch(r.ExpiresAt),
		Repeat:      r.Repeat,
	}
	if !r.LastExpiresAt.IsZero() {
		w.LastExpiresAt = epoch(r.LastExpiresAt)
	}
	if !r.NextExpiresAt.IsZero() {
		w.NextExpiresAt = epoch(r.NextExpiresAt)
	}
	return json.Marshal(w)
}

// UnmarshalRecord decodes a stored reminder. The owner id comes from the
// storage key, not the record.
func UnmarshalRecord(owner int64, data []byte) (*Reminder, error) {
	var w reminderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	r := &Reminder{
		OwnerID:     owner,
		ID:          w.ID,
		JumpURL:     w.JumpURL,
		Snooze:      w.Snooze,
		MeToo:       w.MeToo,
		Content:     w.Content,
		Destination: w.Destination,
		Target:      w.Target,
		CreatedAt:   fromEpoch(w.CreatedAt),
		ExpiresAt:   fromEpoch(w.ExpiresAt),
		Repeat:      w.Repeat,
	}
	if w.LastExpiresAt != 0 {
		r.LastExpiresAt = fromEpoch(w.LastExpiresAt)
	}
	if w.NextExpiresAt != 0 {
		r.NextExpiresAt = fromEpoch(w.NextExpiresAt)
	}
	if r.Repeat == nil && len(w.Intervals) > 0 {
		var legacy recurrence.Set
		if err := json.Unmarshal(w.Intervals, &legacy); err != nil {
			return nil, fmt.Errorf("legacy intervals: %w", err)
		}
		r.Repeat = legacy
	}
	if r.ID == 0 {
		return nil, errors.New("reminder record has no id")
	}
	return r, nil
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromEpoch(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}

// Describe renders a short human-readable summary for list output.
func (r *Reminder) Describe(now time.Time) string {
	state := ""
	if r.Snooze {
		state += "[snoozed] "
	}
	if r.MeToo {
		state += "[me too] "
	}
	when := "expired"
	if !r.NextExpiresAt.IsZero() {
		if r.NextExpiresAt.After(now) {
			when = "in " + intervalString(r.NextExpiresAt.Sub(now))
		} else {
			when = intervalString(now.Sub(r.NextExpiresAt)) + " overdue"
		}
	}
	s := fmt.Sprintf("#%d %s%s — %s", r.ID, state, r.Content.Summary(), when)
	if len(r.Repeat) > 0 {
		s += ", repeats " + r.Repeat.Describe()
	}
	return s
}

// Summary names what a content payload delivers, truncated for list output.
func (c Content) Summary() string {
	switch c.Kind {
	case ContentCommand:
		return fmt.Sprintf("command %q", c.Command)
	case ContentMessage:
		return "saved message"
	default:
		text := c.Text
		if text == "" {
			text = c.Title
		}
		if text == "" {
			return string(c.Kind)
		}
		const max = 60
		rs := []rune(text)
		if len(rs) > max {
			return fmt.Sprintf("%q", string(rs[:max])+"…")
		}
		return fmt.Sprintf("%q", text)
	}
}
