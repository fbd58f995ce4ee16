package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Sink delivers a built message to a destination chat.
type Sink interface {
	SendMessage(ctx context.Context, to kit.ChatTarget, msg kit.Outgoing) (kit.MessageRef, error)
}

// Invocation reports how a command-kind reminder's invocation went.
// Valid means the command is registered; Authorized means the invoker may
// still run it (permissions are re-checked at fire time, not creation time).
type Invocation struct {
	Valid      bool
	Authorized bool
}

// Invoker executes a command line on behalf of a user, auto-confirming
// any interactive prompts.
type Invoker interface {
	Invoke(ctx context.Context, invoker kit.User, dest kit.ChatTarget, line string) (Invocation, error)
}

// Store is the subset of the persistence API Process needs.
type Store interface {
	SetReminder(ctx context.Context, owner int64, id int, data []byte) error
	ClearReminder(ctx context.Context, owner int64, id int) error
	ListReminders(ctx context.Context, owner int64) (map[int][]byte, error)
	Owners(ctx context.Context) ([]int64, error)
	UserTimezone(ctx context.Context, user int64) (string, bool, error)
	SetUserTimezone(ctx context.Context, user int64, tz string) error
}

// Result is the delivered artifact: the sent message for content kinds,
// or the invocation report for command kinds.
type Result struct {
	Message kit.MessageRef
	Invoked bool
	Delayed time.Duration
}

// Processor runs the reminder firing state machine against its collaborators.
type Processor struct {
	Dir     kit.Directory
	Sink    Sink
	Invoker Invoker
	Cache   *Cache
	Fetch   *Fetcher
	Log     logx.Logger

	// Markup supplies the inline keyboard attached to text/message
	// deliveries (snooze button). Nil disables it.
	Markup func(r *Reminder) any

	// DefaultLoc applies to owners who never set a timezone. Nil means UTC.
	DefaultLoc *time.Location
}

// Process fires one reminder. The reschedule-and-save in the first step
// commits before delivery: a crash mid-flight redelivers from the advanced
// state on the next scan (at-least-once, never lost).
//
// In testing mode no state is mutated and no reminder is deleted; the
// delivery itself still happens so users can preview a reminder.
func (p *Processor) Process(ctx context.Context, r *Reminder, now time.Time, testing bool) (Result, error) {
	if !testing {
		r.LastExpiresAt = r.NextExpiresAt
		if len(r.Repeat) > 0 {
			loc := p.ownerLocation(ctx, r.OwnerID)
			advanced, next, err := r.Repeat.Next(r.LastExpiresAt, now, loc)
			if err != nil {
				return Result{}, r.fail(err, false)
			}
			r.Repeat = advanced
			r.NextExpiresAt = next
			if err := p.Cache.Save(ctx, r); err != nil {
				return Result{}, r.fail(fmt.Errorf("reschedule save: %w", err), false)
			}
		} else {
			r.NextExpiresAt = time.Time{}
		}
	}

	owner, ok, err := p.Dir.ResolveUser(ctx, r.OwnerID)
	if err != nil || !ok {
		return Result{}, p.failDeleting(ctx, r, ErrOwnerNotFound, testing)
	}

	var dest kit.ChatTarget
	if r.Destination == 0 {
		// Private delivery: in Telegram the owner's DM chat id is the user id.
		dest = kit.ChatTarget{ChatID: owner.ID}
	} else {
		dest, ok, err = p.Dir.ResolveChat(ctx, r.Destination)
		if err != nil || !ok {
			return Result{}, p.failDeleting(ctx, r, ErrDestinationNotFound, testing)
		}
	}

	if err := r.Content.Validate(); err != nil {
		return Result{}, p.failDeleting(ctx, r, fmt.Errorf("%w: %v", ErrEmptyContent, err), testing)
	}

	var res Result
	if r.Content.Kind == ContentCommand {
		res, err = p.processCommand(ctx, r, dest, testing)
	} else {
		res, err = p.deliver(ctx, r, dest, now, testing)
	}
	if err != nil {
		return Result{}, err
	}

	// A one-shot reminder is done after a successful fire, command kind
	// included; keeping it would show as "expired" in listings forever.
	if r.NextExpiresAt.IsZero() && !testing {
		if err := p.Cache.Delete(ctx, r.OwnerID, r.ID); err != nil {
			p.Log.Warn("fired reminder cleanup failed",
				logx.Int64("owner", r.OwnerID), logx.Int("id", r.ID), logx.Err(err))
		}
	}
	return res, nil
}

func (p *Processor) processCommand(ctx context.Context, r *Reminder, dest kit.ChatTarget, testing bool) (Result, error) {
	invoker, ok, err := p.Dir.ResolveUser(ctx, r.Content.InvokerID)
	if err != nil || !ok {
		return Result{}, p.failDeleting(ctx, r, ErrInvokerNotFound, testing)
	}

	inv, err := p.Invoker.Invoke(ctx, invoker, dest, r.Content.Command)
	if err != nil && !inv.Valid {
		// The dispatch itself failed before any handler ran.
		return Result{}, r.fail(fmt.Errorf("%w: %v", ErrCommandUnavailable, err), false)
	}
	if !inv.Valid {
		// The command's owner may just be unloaded; keep the data around.
		return Result{}, r.fail(ErrCommandUnavailable, false)
	}
	if !inv.Authorized {
		// Permissions were revoked after scheduling; a stored reminder must
		// not become a way to keep running a command past revocation.
		return Result{}, p.failDeleting(ctx, r, ErrInvokerUnauthorized, testing)
	}
	if err != nil {
		// The handler ran and returned an error. Not an availability
		// problem: report the execution failure and keep the reminder.
		return Result{}, r.fail(fmt.Errorf("%w: %v", ErrCommandFailed, err), false)
	}
	return Result{Invoked: true}, nil
}

func (p *Processor) deliver(ctx context.Context, r *Reminder, dest kit.ChatTarget, now time.Time, testing bool) (Result, error) {
	out := kit.Outgoing{}

	if r.Content.Kind == ContentSay {
		out.Text = r.Content.Text
		if r.Content.ImageURL != "" {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += r.Content.ImageURL
		}
	} else {
		out.Text = renderDelivered(r, now)
		if r.Target != nil && r.Target.Mention != "" {
			out.Text = r.Target.Mention + "\n" + out.Text
		}
		if p.Markup != nil {
			out.Options.ReplyMarkupAdapter = p.Markup(r)
		}
		out.ReplyTo = p.replyRef(r, dest)
	}

	if len(r.Content.Files) > 0 && p.Fetch != nil {
		names := make([]string, 0, len(r.Content.Files))
		for name := range r.Content.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			data, err := p.Fetch.Fetch(ctx, r.Content.Files[name])
			if err != nil {
				return Result{}, p.failDeleting(ctx, r, fmt.Errorf("%w: attachment %s: %v", ErrDeliveryFailed, name, err), testing)
			}
			out.Attachments = append(out.Attachments, kit.Attachment{Name: name, Data: data})
		}
	}

	ref, err := p.Sink.SendMessage(ctx, dest, out)
	if err != nil {
		return Result{}, p.failDeleting(ctx, r, fmt.Errorf("%w: %v", ErrDeliveryFailed, err), testing)
	}
	return Result{Message: ref, Delayed: delayFor(r, now)}, nil
}

// replyRef links the delivery back to its originating message when the
// destination is the chat that message lives in.
func (p *Processor) replyRef(r *Reminder, dest kit.ChatTarget) *kit.MessageRef {
	url := r.JumpURL
	if r.Content.Kind == ContentMessage && r.Content.MessageJumpURL != "" {
		url = r.Content.MessageJumpURL
	}
	if url == "" {
		return nil
	}
	chatID, msgID, ok := parseJumpRef(url)
	if !ok || chatID != dest.ChatID {
		return nil
	}
	return &kit.MessageRef{ChatID: chatID, MessageID: msgID}
}

func (p *Processor) failDeleting(ctx context.Context, r *Reminder, err error, testing bool) error {
	deleted := false
	if !testing {
		if derr := p.Cache.Delete(ctx, r.OwnerID, r.ID); derr != nil {
			p.Log.Warn("failed reminder cleanup failed",
				logx.Int64("owner", r.OwnerID), logx.Int("id", r.ID), logx.Err(derr))
		} else {
			deleted = true
		}
	}
	return r.fail(err, deleted)
}

func (p *Processor) ownerLocation(ctx context.Context, owner int64) *time.Location {
	fallback := p.DefaultLoc
	if fallback == nil {
		fallback = time.UTC
	}
	if p.Cache == nil {
		return fallback
	}
	tz, ok, err := p.Cache.store.UserTimezone(ctx, owner)
	if err != nil || !ok || tz == "" {
		return fallback
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.Log.Warn("stored timezone unparseable; using default",
			logx.Int64("owner", owner), logx.String("tz", tz))
		return fallback
	}
	return loc
}
