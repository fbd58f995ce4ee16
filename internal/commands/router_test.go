package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	answers []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) SendMessage(ctx context.Context, to kit.ChatTarget, msg kit.Outgoing) (kit.MessageRef, error) {
	return a.SendText(ctx, to, msg.Text, nil)
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, text)
	return nil
}

func (a *fakeAdapter) lastSent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

func (a *fakeAdapter) lastAnswer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.answers) == 0 {
		return ""
	}
	return a.answers[len(a.answers)-1]
}

type memStore struct {
	mu        sync.Mutex
	records   map[int64]map[int][]byte
	timezones map[int64]string
}

func newMemStore() *memStore {
	return &memStore{records: map[int64]map[int][]byte{}, timezones: map[int64]string{}}
}

func (s *memStore) SetReminder(_ context.Context, owner int64, id int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.records[owner]
	if m == nil {
		m = map[int][]byte{}
		s.records[owner] = m
	}
	m[id] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) ClearReminder(_ context.Context, owner int64, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.records[owner]; m != nil {
		delete(m, id)
	}
	return nil
}

func (s *memStore) ListReminders(_ context.Context, owner int64) (map[int][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int][]byte{}
	for id, d := range s.records[owner] {
		out[id] = d
	}
	return out, nil
}

func (s *memStore) Owners(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for o := range s.records {
		out = append(out, o)
	}
	return out, nil
}

func (s *memStore) UserTimezone(_ context.Context, user int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tz, ok := s.timezones[user]
	return tz, ok, nil
}

func (s *memStore) SetUserTimezone(_ context.Context, user int64, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tz == "" {
		delete(s.timezones, user)
		return nil
	}
	s.timezones[user] = tz
	return nil
}

type testEnv struct {
	router  *Router
	adapter *fakeAdapter
	cache   *reminder.Cache
	nudges  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{adapter: &fakeAdapter{}}
	env.cache = reminder.NewCache(newMemStore(), logx.Nop())
	env.router = New(Deps{
		Adapter:    env.adapter,
		Cache:      env.cache,
		Notify:     func() { env.nudges++ },
		Log:        logx.Nop(),
		MaxPerUser: 5,
	})
	return env
}

// message simulates a private-chat command from user 7.
func message(text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: 7, FromID: 7, Text: text}
}

func TestRemindCommandCreatesReminder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/remind 10m buy milk"))

	rs, err := env.cache.List(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 {
		t.Fatalf("reminders = %d, want 1", len(rs))
	}
	r := rs[0]
	if r.Content.Kind != reminder.ContentText || r.Content.Text != "buy milk" {
		t.Fatalf("content = %+v", r.Content)
	}
	if r.Destination != 0 {
		t.Fatalf("destination = %d, want 0 (private)", r.Destination)
	}
	until := time.Until(r.NextExpiresAt)
	if until < 9*time.Minute || until > 11*time.Minute {
		t.Fatalf("fires in %v, want ~10m", until)
	}
	if env.nudges == 0 {
		t.Fatal("scheduler was not nudged")
	}
	if !strings.Contains(env.adapter.lastSent(), "saved") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}
}

func TestRemindRecurringAttachesRules(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message(`/remind 09:00 water plants --every 1d --cron "0 9 * * 1"`))

	rs, _ := env.cache.List(ctx, 7)
	if len(rs) != 1 {
		t.Fatalf("reminders = %d, want 1", len(rs))
	}
	if len(rs[0].Repeat) != 2 {
		t.Fatalf("rules = %d, want 2", len(rs[0].Repeat))
	}
}

func TestRemindRejectsInvalidRule(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/remind 10m x --cron nope"))

	if n, _ := env.cache.Count(ctx, 7); n != 0 {
		t.Fatalf("reminders = %d, want 0", n)
	}
	if !strings.Contains(env.adapter.lastSent(), "Error") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}
}

func TestRemindQuota(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		env.router.handleMessage(ctx, message("/remind 10m thing"))
	}
	if n, _ := env.cache.Count(ctx, 7); n != 5 {
		t.Fatalf("reminders = %d, want max 5", n)
	}
	if !strings.Contains(env.adapter.lastSent(), "forget one first") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/frobnicate"))
	if !strings.Contains(env.adapter.lastSent(), "Unknown command") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}

	// Group chats stay quiet: the slash namespace is shared there.
	before := len(env.adapter.sent)
	env.router.handleMessage(ctx, &kit.Message{ChatID: -100, FromID: 7, Text: "/frobnicate", IsGroup: true})
	if len(env.adapter.sent) != before {
		t.Fatal("replied to unknown command in a group")
	}
}

func TestOwnerOnlyCommand(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/say 10m hello"))
	if n, _ := env.cache.Count(ctx, 7); n != 0 {
		t.Fatal("non-operator scheduled a say")
	}
	if !strings.Contains(env.adapter.lastSent(), "not allowed") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}

	env.router.SetOperators([]int64{7})
	env.router.handleMessage(ctx, message("/say 10m hello"))
	rs, _ := env.cache.List(ctx, 7)
	if len(rs) != 1 || rs[0].Content.Kind != reminder.ContentSay {
		t.Fatalf("reminders = %+v", rs)
	}
}

func TestForgetRequiresConfirmation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/remind 10m x"))
	env.router.handleMessage(ctx, message("/forget 1"))
	if n, _ := env.cache.Count(ctx, 7); n != 1 {
		t.Fatal("deleted without confirmation")
	}
	if !strings.Contains(env.adapter.lastSent(), "confirm") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}

	env.router.handleMessage(ctx, message("/forget 1 confirm"))
	if n, _ := env.cache.Count(ctx, 7); n != 0 {
		t.Fatal("confirmed forget did not delete")
	}
}

func TestTimezoneRoundTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/timezone Europe/Berlin"))
	if !strings.Contains(env.adapter.lastSent(), "Europe/Berlin") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}
	tz, ok, err := env.cache.Timezone(ctx, 7)
	if err != nil || !ok || tz != "Europe/Berlin" {
		t.Fatalf("stored tz = (%q, %v, %v)", tz, ok, err)
	}

	env.router.handleMessage(ctx, message("/timezone nonsense/zone"))
	if !strings.Contains(env.adapter.lastSent(), "unknown timezone") {
		t.Fatalf("reply = %q", env.adapter.lastSent())
	}

	env.router.handleMessage(ctx, message("/timezone clear"))
	if _, ok, _ := env.cache.Timezone(ctx, 7); ok {
		t.Fatal("timezone not cleared")
	}
}

func TestCommandScheduling(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/command 10m --every 1d ; reminders"))
	rs, _ := env.cache.List(ctx, 7)
	if len(rs) != 1 {
		t.Fatalf("reminders = %d, want 1", len(rs))
	}
	r := rs[0]
	if r.Content.Kind != reminder.ContentCommand || r.Content.Command != "reminders" {
		t.Fatalf("content = %+v", r.Content)
	}
	if r.Content.InvokerID != 7 {
		t.Fatalf("invoker = %d, want 7", r.Content.InvokerID)
	}
	if len(r.Repeat) != 1 {
		t.Fatalf("rules = %d, want 1", len(r.Repeat))
	}
}

func TestCommandSchedulingRejectsUnknown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.handleMessage(ctx, message("/command 10m ; frobnicate"))
	if n, _ := env.cache.Count(ctx, 7); n != 0 {
		t.Fatal("unknown command scheduled")
	}
}

func TestInvoke(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	user := kit.User{ID: 7}
	dest := kit.ChatTarget{ChatID: 7}

	t.Run("unknown command is invalid", func(t *testing.T) {
		inv, err := env.router.Invoke(ctx, user, dest, "frobnicate now")
		if err != nil {
			t.Fatal(err)
		}
		if inv.Valid {
			t.Fatal("unknown command reported valid")
		}
	})

	t.Run("owner-only without operator is unauthorized", func(t *testing.T) {
		inv, err := env.router.Invoke(ctx, user, dest, "say 10m hi")
		if err != nil {
			t.Fatal(err)
		}
		if !inv.Valid || inv.Authorized {
			t.Fatalf("invocation = %+v", inv)
		}
	})

	t.Run("handler runs with assume-yes", func(t *testing.T) {
		var sawAssumeYes bool
		err := env.router.Register(&Command{
			Name:   "probe",
			Hidden: true,
			Handle: func(_ context.Context, req *Request) error {
				sawAssumeYes = req.AssumeYes
				return nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		inv, err := env.router.Invoke(ctx, user, dest, "probe")
		if err != nil {
			t.Fatal(err)
		}
		if !inv.Valid || !inv.Authorized || !sawAssumeYes {
			t.Fatalf("invocation = %+v, assumeYes = %v", inv, sawAssumeYes)
		}
	})
}

func buttonData(t *testing.T, m any, row, col int) string {
	t.Helper()
	rm, ok := m.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) <= row || len(rm.InlineKeyboard[row]) <= col {
		t.Fatalf("markup = %#v", m)
	}
	return rm.InlineKeyboard[row][col].Data
}

func TestSnoozeCallback(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	orig := &reminder.Reminder{
		OwnerID:       7,
		ID:            3,
		Content:       reminder.Content{Kind: reminder.ContentText, Text: "stand up"},
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
		ExpiresAt:     time.Now().UTC(),
		NextExpiresAt: time.Now().UTC(),
	}
	data := buttonData(t, env.router.DeliveryMarkup(orig), 0, 0) // Snooze 10m

	// A stranger cannot snooze someone else's reminder.
	env.router.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: 99, Data: data})
	if n, _ := env.cache.Count(ctx, 99); n != 0 {
		t.Fatal("stranger snoozed a foreign reminder")
	}

	env.router.handleCallback(ctx, &kit.Callback{ID: "cb2", FromID: 7, Data: data})
	rs, _ := env.cache.List(ctx, 7)
	if len(rs) != 1 {
		t.Fatalf("reminders = %d, want 1", len(rs))
	}
	r := rs[0]
	if !r.Snooze || r.Content.Text != "stand up" {
		t.Fatalf("snoozed = %+v", r)
	}
	until := time.Until(r.NextExpiresAt)
	if until < 9*time.Minute || until > 11*time.Minute {
		t.Fatalf("fires in %v, want ~10m", until)
	}
	if !strings.Contains(env.adapter.lastAnswer(), "Snoozed") {
		t.Fatalf("answer = %q", env.adapter.lastAnswer())
	}
}

func TestMeTooCallback(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	orig := &reminder.Reminder{
		OwnerID:       7,
		ID:            3,
		Content:       reminder.Content{Kind: reminder.ContentText, Text: "watch launch"},
		CreatedAt:     time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt:     time.Now().UTC(),
		NextExpiresAt: time.Now().UTC(),
	}
	data := buttonData(t, env.router.DeliveryMarkup(orig), 1, 0) // Me too

	env.router.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: 42, Data: data})
	rs, _ := env.cache.List(ctx, 42)
	if len(rs) != 1 {
		t.Fatalf("reminders = %d, want 1", len(rs))
	}
	r := rs[0]
	if !r.MeToo || r.Content.Text != "watch launch" {
		t.Fatalf("copy = %+v", r)
	}
	// The copy waits as long as the original did (2h).
	until := time.Until(r.NextExpiresAt)
	if until < 110*time.Minute || until > 130*time.Minute {
		t.Fatalf("fires in %v, want ~2h", until)
	}

	// The owner pressing it is a no-op.
	env.router.handleCallback(ctx, &kit.Callback{ID: "cb2", FromID: 7, Data: data})
	if n, _ := env.cache.Count(ctx, 7); n != 0 {
		t.Fatal("owner me-too created a duplicate")
	}
}

func TestMenuCommandsHidesRestricted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, c := range env.router.MenuCommands() {
		if c.Command == "say" {
			t.Fatal("owner-only command listed in menu")
		}
		if c.Description == "" {
			t.Fatalf("command %q has no description", c.Command)
		}
	}
}
