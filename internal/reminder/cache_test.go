package reminder

import (
	"context"
	"testing"
	"time"

	"remindbot/internal/recurrence"
	logx "remindbot/pkg/logx"
)

func TestCacheSaveIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	c := NewCache(store, logx.Nop())

	r := textReminder(1)
	if err := c.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Save(ctx, r); err != nil {
		t.Fatalf("Save twice: %v", err)
	}

	list, err := c.List(ctx, 42)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("records = %d, want 1", len(list))
	}
	if len(store.records[42]) != 1 {
		t.Fatalf("stored records = %d, want 1", len(store.records[42]))
	}
}

func TestCacheLazyLoadsFromStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()

	r := textReminder(3)
	data, err := r.MarshalRecord()
	if err != nil {
		t.Fatalf("MarshalRecord: %v", err)
	}
	if err := store.SetReminder(ctx, 42, 3, data); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	// Undecodable rows are skipped, not fatal.
	if err := store.SetReminder(ctx, 42, 4, []byte("{broken")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	c := NewCache(store, logx.Nop())
	got, ok, err := c.Get(ctx, 42, 3)
	if err != nil || !ok {
		t.Fatalf("Get = %v %v", ok, err)
	}
	if got.ID != 3 || got.Content.Text != "drink water" {
		t.Fatalf("loaded = %+v", got)
	}
	if _, ok, _ := c.Get(ctx, 42, 4); ok {
		t.Fatal("broken record surfaced")
	}
}

func TestCacheHandsOutCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewCache(newFakeStore(), logx.Nop())

	r := textReminder(1)
	r.Repeat = recurrence.Set{{Kind: recurrence.KindEvery, Every: recurrence.Delta{Days: 1}}}
	r.Content.Files = map[string]string{"agenda.txt": "https://example.com/agenda.txt"}
	if err := c.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the caller's reminder after Save must not reach the cache.
	r.Content.Text = "tampered"
	got, ok, err := c.Get(ctx, 42, 1)
	if err != nil || !ok {
		t.Fatalf("Get = %v %v", ok, err)
	}
	if got.Content.Text != "drink water" {
		t.Fatalf("cache aliases the saved pointer: %q", got.Content.Text)
	}

	// Mutating what Get/List/Due returned must not reach the cache either.
	got.NextExpiresAt = got.NextExpiresAt.Add(time.Hour)
	got.Repeat[0].Every.Days = 99
	got.Content.Files["agenda.txt"] = "https://evil.example.com"

	again, _, err := c.Get(ctx, 42, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !again.NextExpiresAt.Equal(utc(2024, time.June, 1, 12, 0)) {
		t.Fatalf("NextExpiresAt leaked through: %v", again.NextExpiresAt)
	}
	if again.Repeat[0].Every.Days != 1 {
		t.Fatalf("Repeat leaked through: %+v", again.Repeat[0])
	}
	if again.Content.Files["agenda.txt"] != "https://example.com/agenda.txt" {
		t.Fatalf("Files leaked through: %v", again.Content.Files)
	}

	list, err := c.List(ctx, 42)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %d, %v", len(list), err)
	}
	if list[0] == again {
		t.Fatal("List and Get share a pointer")
	}
}

func TestCacheDeleteAbsentIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewCache(newFakeStore(), logx.Nop())
	if err := c.Delete(ctx, 42, 99); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestCacheNextID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewCache(newFakeStore(), logx.Nop())

	id, err := c.NextID(ctx, 42)
	if err != nil || id != 1 {
		t.Fatalf("NextID empty = %d, %v", id, err)
	}

	r := textReminder(5)
	if err := c.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	id, err = c.NextID(ctx, 42)
	if err != nil || id != 6 {
		t.Fatalf("NextID = %d, %v; want 6", id, err)
	}
}

func TestCacheDueScansAllOwners(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	c := NewCache(store, logx.Nop())

	now := utc(2024, time.June, 1, 12, 0)

	overdue := textReminder(1)
	overdue.NextExpiresAt = now.Add(-time.Minute)
	if err := c.Save(ctx, overdue); err != nil {
		t.Fatalf("Save: %v", err)
	}

	future := textReminder(2)
	future.NextExpiresAt = now.Add(time.Hour)
	if err := c.Save(ctx, future); err != nil {
		t.Fatalf("Save: %v", err)
	}

	other := textReminder(1)
	other.OwnerID = 77
	other.NextExpiresAt = now.Add(-2 * time.Minute)
	if err := c.Save(ctx, other); err != nil {
		t.Fatalf("Save: %v", err)
	}

	exhausted := textReminder(3)
	exhausted.NextExpiresAt = time.Time{}
	if err := c.Save(ctx, exhausted); err != nil {
		t.Fatalf("Save: %v", err)
	}

	due, err := c.Due(ctx, now)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d reminders, want 2", len(due))
	}
	// Ordered by next fire time.
	if due[0].OwnerID != 77 || due[1].OwnerID != 42 {
		t.Fatalf("due order = %d, %d", due[0].OwnerID, due[1].OwnerID)
	}
}
