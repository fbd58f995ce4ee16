package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// Cache is a write-through mirror of the store, keyed by owner. Owners load
// lazily on first access; saves and deletes hit the store first and update
// the mirror only on success, so the store stays the source of truth.
//
// Every accessor hands out deep copies and Save mirrors a copy, so no caller
// ever holds a pointer into the cache. Process mutates the reminder it was
// given while list/info handlers read theirs concurrently; without the copies
// that would race.
type Cache struct {
	store Store
	log   logx.Logger

	mu     sync.RWMutex
	owners map[int64]map[int]*Reminder
	loaded map[int64]bool
}

func NewCache(store Store, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		store:  store,
		log:    log,
		owners: map[int64]map[int]*Reminder{},
		loaded: map[int64]bool{},
	}
}

// ensureLoaded populates the owner's slot from the store. Records that no
// longer decode are skipped, not fatal; one bad row must not hide the rest.
func (c *Cache) ensureLoaded(ctx context.Context, owner int64) error {
	c.mu.RLock()
	done := c.loaded[owner]
	c.mu.RUnlock()
	if done {
		return nil
	}

	records, err := c.store.ListReminders(ctx, owner)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded[owner] {
		return nil
	}
	m := map[int]*Reminder{}
	for id, data := range records {
		r, err := UnmarshalRecord(owner, data)
		if err != nil {
			c.log.Warn("skipping undecodable reminder record",
				logx.Int64("owner", owner), logx.Int("id", id), logx.Err(err))
			continue
		}
		m[r.ID] = r
	}
	c.owners[owner] = m
	c.loaded[owner] = true
	return nil
}

// Save upserts the reminder in the store and mirrors it. Idempotent: saving
// identical data twice leaves one record.
func (c *Cache) Save(ctx context.Context, r *Reminder) error {
	data, err := r.MarshalRecord()
	if err != nil {
		return err
	}
	if err := c.ensureLoaded(ctx, r.OwnerID); err != nil {
		return err
	}
	if err := c.store.SetReminder(ctx, r.OwnerID, r.ID, data); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.owners[r.OwnerID]
	if m == nil {
		m = map[int]*Reminder{}
		c.owners[r.OwnerID] = m
	}
	m[r.ID] = r.Clone()
	return nil
}

// Delete removes the reminder from the store and the mirror. Deleting an
// absent reminder is a no-op.
func (c *Cache) Delete(ctx context.Context, owner int64, id int) error {
	if err := c.store.ClearReminder(ctx, owner, id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.owners[owner]; m != nil {
		delete(m, id)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, owner int64, id int) (*Reminder, bool, error) {
	if err := c.ensureLoaded(ctx, owner); err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.owners[owner][id]
	return r.Clone(), ok, nil
}

// List returns the owner's reminders ordered by id.
func (c *Cache) List(ctx context.Context, owner int64) ([]*Reminder, error) {
	if err := c.ensureLoaded(ctx, owner); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.owners[owner]
	out := make([]*Reminder, 0, len(m))
	for _, r := range m {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// NextID allocates the next reminder id for an owner (smallest free slot
// above the current maximum).
func (c *Cache) NextID(ctx context.Context, owner int64) (int, error) {
	if err := c.ensureLoaded(ctx, owner); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	max := 0
	for id := range c.owners[owner] {
		if id > max {
			max = id
		}
	}
	return max + 1, nil
}

// Count returns how many reminders the owner has stored.
func (c *Cache) Count(ctx context.Context, owner int64) (int, error) {
	if err := c.ensureLoaded(ctx, owner); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.owners[owner]), nil
}

// Due returns every reminder whose next fire time has passed, across all
// owners known to the store. Exhausted reminders (zero next) never fire.
func (c *Cache) Due(ctx context.Context, now time.Time) ([]*Reminder, error) {
	owners, err := c.store.Owners(ctx)
	if err != nil {
		return nil, err
	}

	var due []*Reminder
	for _, owner := range owners {
		if err := c.ensureLoaded(ctx, owner); err != nil {
			c.log.Warn("due scan: owner load failed", logx.Int64("owner", owner), logx.Err(err))
			continue
		}
		c.mu.RLock()
		for _, r := range c.owners[owner] {
			if !r.NextExpiresAt.IsZero() && !r.NextExpiresAt.After(now) {
				due = append(due, r.Clone())
			}
		}
		c.mu.RUnlock()
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextExpiresAt.Equal(due[j].NextExpiresAt) {
			return due[i].NextExpiresAt.Before(due[j].NextExpiresAt)
		}
		if due[i].OwnerID != due[j].OwnerID {
			return due[i].OwnerID < due[j].OwnerID
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

// Timezone returns the owner's stored timezone name, if any.
func (c *Cache) Timezone(ctx context.Context, owner int64) (string, bool, error) {
	return c.store.UserTimezone(ctx, owner)
}

// SetTimezone stores the owner's timezone. Empty clears it.
func (c *Cache) SetTimezone(ctx context.Context, owner int64, tz string) error {
	return c.store.SetUserTimezone(ctx, owner, tz)
}
