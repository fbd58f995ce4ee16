package reminder

import (
	"encoding/json"
	"testing"
	"time"

	"remindbot/internal/recurrence"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	r := &Reminder{
		OwnerID: 42,
		ID:      3,
		JumpURL: "https://t.me/c/123456/789",
		Snooze:  true,
		MeToo:   true,
		Content: Content{
			Kind:  ContentText,
			Title: "standup",
			Text:  "prepare notes",
			Files: map[string]string{"agenda.txt": "https://example.com/agenda.txt"},
		},
		Destination:   -1001234,
		Target:        &Target{ID: 77, Mention: "@colleague"},
		CreatedAt:     utc(2024, time.March, 1, 8, 0),
		ExpiresAt:     utc(2024, time.March, 2, 9, 0),
		LastExpiresAt: utc(2024, time.March, 2, 9, 0),
		NextExpiresAt: utc(2024, time.March, 3, 9, 0),
		Repeat: recurrence.Set{
			{Kind: recurrence.KindEvery, Every: recurrence.Delta{Days: 1}},
		},
	}

	data, err := r.MarshalRecord()
	if err != nil {
		t.Fatalf("MarshalRecord: %v", err)
	}
	got, err := UnmarshalRecord(42, data)
	if err != nil {
		t.Fatalf("UnmarshalRecord: %v", err)
	}

	if got.OwnerID != 42 || got.ID != 3 {
		t.Fatalf("identity = %d#%d", got.OwnerID, got.ID)
	}
	if !got.Snooze || !got.MeToo || got.JumpURL != r.JumpURL {
		t.Fatalf("flags lost: %+v", got)
	}
	if got.Content.Kind != ContentText || got.Content.Text != "prepare notes" {
		t.Fatalf("content = %+v", got.Content)
	}
	if got.Content.Files["agenda.txt"] != "https://example.com/agenda.txt" {
		t.Fatalf("files = %v", got.Content.Files)
	}
	if got.Destination != -1001234 || got.Target == nil || got.Target.ID != 77 {
		t.Fatalf("destination/target lost: %+v", got)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) || !got.ExpiresAt.Equal(r.ExpiresAt) ||
		!got.LastExpiresAt.Equal(r.LastExpiresAt) || !got.NextExpiresAt.Equal(r.NextExpiresAt) {
		t.Fatalf("timestamps drifted: %+v", got)
	}
	if len(got.Repeat) != 1 || got.Repeat[0].Kind != recurrence.KindEvery {
		t.Fatalf("repeat = %+v", got.Repeat)
	}
}

func TestRecordOmitsFalsyOptionalFields(t *testing.T) {
	t.Parallel()
	r := &Reminder{
		OwnerID:       1,
		ID:            1,
		Content:       Content{Kind: ContentText, Text: "hi"},
		CreatedAt:     utc(2024, time.January, 1, 0, 0),
		ExpiresAt:     utc(2024, time.January, 2, 0, 0),
		NextExpiresAt: utc(2024, time.January, 2, 0, 0),
	}
	data, err := r.MarshalRecord()
	if err != nil {
		t.Fatalf("MarshalRecord: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"jump_url", "snooze", "me_too", "destination", "target", "last_expires_at", "repeat"} {
		if _, present := m[key]; present {
			t.Errorf("falsy field %q was serialized", key)
		}
	}
	for _, key := range []string{"id", "content", "created_at", "expires_at", "next_expires_at"} {
		if _, present := m[key]; !present {
			t.Errorf("required field %q missing", key)
		}
	}
}

func TestRecordLegacyIntervalsKey(t *testing.T) {
	t.Parallel()
	data := []byte(`{
		"id": 2,
		"content": {"type": "text", "text": "water plants"},
		"created_at": 1700000000,
		"expires_at": 1700086400,
		"next_expires_at": 1700086400,
		"intervals": [{"type": "sample", "value": {"days": 1}}]
	}`)
	r, err := UnmarshalRecord(9, data)
	if err != nil {
		t.Fatalf("UnmarshalRecord: %v", err)
	}
	if len(r.Repeat) != 1 {
		t.Fatalf("legacy intervals not decoded: %+v", r.Repeat)
	}
	if r.Repeat[0].Kind != recurrence.KindEvery || r.Repeat[0].Every.Days != 1 {
		t.Fatalf("legacy rule = %+v", r.Repeat[0])
	}
}

func TestContentValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{"text with body", Content{Kind: ContentText, Text: "x"}, false},
		{"text empty", Content{Kind: ContentText}, true},
		{"text with only image", Content{Kind: ContentText, ImageURL: "https://x/i.png"}, false},
		{"say with body", Content{Kind: ContentSay, Text: "x"}, false},
		{"say empty", Content{Kind: ContentSay}, true},
		{"message with reference", Content{Kind: ContentMessage, MessageJumpURL: "https://t.me/c/1/2"}, false},
		{"message without reference", Content{Kind: ContentMessage, Text: "x"}, true},
		{"command ok", Content{Kind: ContentCommand, Command: "status", InvokerID: 5}, false},
		{"command without invoker", Content{Kind: ContentCommand, Command: "status"}, true},
		{"command without line", Content{Kind: ContentCommand, InvokerID: 5}, true},
		{"unknown kind", Content{Kind: "embed"}, true},
		{"missing kind", Content{}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.content.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseJumpRef(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url      string
		wantChat int64
		wantMsg  int
		wantOK   bool
	}{
		{"https://t.me/c/123456/789", -100123456, 789, true},
		{"-1001234/55", -1001234, 55, true},
		{"https://t.me/c/123456/789/", -100123456, 789, true},
		{"nonsense", 0, 0, false},
		{"https://t.me/c/123456/abc", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		chat, msg, ok := parseJumpRef(tt.url)
		if ok != tt.wantOK || chat != tt.wantChat || msg != tt.wantMsg {
			t.Errorf("parseJumpRef(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.url, chat, msg, ok, tt.wantChat, tt.wantMsg, tt.wantOK)
		}
	}
}

func TestIntervalString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "just now"},
		{500 * time.Millisecond, "just now"},
		{45 * time.Second, "45 seconds"},
		{time.Minute, "1 minute"},
		{90 * time.Second, "1 minute, 30 seconds"},
		{26 * time.Hour, "1 day, 2 hours"},
		{-time.Hour, "1 hour"},
	}
	for _, tt := range tests {
		if got := intervalString(tt.d); got != tt.want {
			t.Errorf("intervalString(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
