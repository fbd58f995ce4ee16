package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"

	logx "remindbot/pkg/logx"
)

func (rt *Router) registerBuiltins() {
	for _, c := range []*Command{
		{
			Name:        "remind",
			Aliases:     []string{"remindme"},
			Description: "Schedule a reminder",
			Usage:       "/remind <when> <text> [--every <interval>] [--cron \"<expr>\"] [--rrule \"<rule>\"] [--in <chat>] [--target <user>]",
			Handle:      rt.cmdRemind,
		},
		{
			Name:        "reminders",
			Aliases:     []string{"list"},
			Description: "List your reminders",
			Usage:       "/reminders",
			Handle:      rt.cmdList,
		},
		{
			Name:        "info",
			Description: "Show one reminder in full",
			Usage:       "/info <id>",
			Handle:      rt.cmdInfo,
		},
		{
			Name:        "forget",
			Aliases:     []string{"delete"},
			Description: "Delete a reminder",
			Usage:       "/forget <id> confirm",
			Handle:      rt.cmdForget,
		},
		{
			Name:        "preview",
			Description: "Deliver a reminder now without touching its schedule",
			Usage:       "/preview <id>",
			Handle:      rt.cmdPreview,
		},
		{
			Name:        "timezone",
			Aliases:     []string{"tz"},
			Description: "Show or set your timezone",
			Usage:       "/timezone [Area/City|clear]",
			Handle:      rt.cmdTimezone,
		},
		{
			Name:        "say",
			Description: "Schedule a verbatim message",
			Usage:       "/say <when> <text> [--in <chat>] [--image <url>]",
			OwnerOnly:   true,
			Handle:      rt.cmdSay,
		},
		{
			Name:        "command",
			Description: "Schedule a command to run later",
			Usage:       "/command <when> [--every <interval>] ; <command line>",
			Handle:      rt.cmdCommand,
		},
		{
			Name:        "help",
			Description: "List available commands",
			Usage:       "/help",
			Handle:      rt.cmdHelp,
		},
	} {
		if err := rt.Register(c); err != nil {
			rt.log.Error("builtin registration failed", logx.Err(err))
		}
	}
}

// parseLeadingWhen consumes the longest leading run of arguments (up to
// three) that parses as a fire time and returns the remainder.
func parseLeadingWhen(args []string, now time.Time, loc *time.Location) (time.Time, []string, error) {
	max := 3
	if len(args) < max {
		max = len(args)
	}
	for n := max; n >= 1; n-- {
		if t, err := ParseWhen(strings.Join(args[:n], " "), now, loc); err == nil {
			return t, args[n:], nil
		}
	}
	if len(args) == 0 {
		return time.Time{}, nil, fmt.Errorf("when is this for? (try '10m', 'tomorrow 09:00', or '2006-01-02 15:04')")
	}
	_, err := ParseWhen(args[0], now, loc)
	return time.Time{}, nil, err
}

// resolveWhen reads the fire time from --at or from the leading arguments.
func resolveWhen(req *Request, now time.Time, loc *time.Location) (time.Time, []string, error) {
	if at, ok := req.Flag("at"); ok {
		t, err := ParseWhen(at, now, loc)
		return t, req.Args, err
	}
	return parseLeadingWhen(req.Args, now, loc)
}

// destinationFor picks the delivery chat: --in wins, a group origin chat is
// next, and a private chat means DM delivery (stored as zero).
func destinationFor(req *Request) (int64, error) {
	if v, ok := req.Flag("in"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("--in wants a numeric chat id, got %q", v)
		}
		return id, nil
	}
	// Telegram private chats share the user's id.
	if req.Chat.ChatID != 0 && req.Chat.ChatID != req.From.ID {
		return req.Chat.ChatID, nil
	}
	return 0, nil
}

func targetFor(req *Request) (*reminder.Target, error) {
	v, ok := req.Flag("target")
	if !ok {
		return nil, nil
	}
	if strings.HasPrefix(v, "@") {
		return &reminder.Target{Mention: v}, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("--target wants a user id or @username, got %q", v)
	}
	return &reminder.Target{ID: id}, nil
}

// create runs the shared tail of every scheduling command: quota, id
// allocation, persistence, scheduler nudge, confirmation.
func (rt *Router) create(ctx context.Context, req *Request, r *reminder.Reminder, now time.Time) error {
	n, err := rt.cache.Count(ctx, r.OwnerID)
	if err != nil {
		return err
	}
	if n >= rt.maxPerUser {
		return fmt.Errorf("you already have %d reminders; forget one first", n)
	}
	id, err := rt.cache.NextID(ctx, r.OwnerID)
	if err != nil {
		return err
	}
	r.ID = id
	if err := rt.cache.Save(ctx, r); err != nil {
		return err
	}
	rt.notify()

	msg := fmt.Sprintf("Reminder #%d saved, fires in %s.", r.ID, untilString(r.NextExpiresAt, now))
	if len(r.Repeat) > 0 {
		msg += "\nRepeats:\n" + r.Repeat.Describe()
	}
	return req.Reply(ctx, msg)
}

// jumpURLFor links back to the creating message. Only supergroup messages
// have stable t.me links; private chats and scheduled invocations yield "".
func jumpURLFor(req *Request) string {
	if req.MsgID == 0 {
		return ""
	}
	s := strconv.FormatInt(req.Chat.ChatID, 10)
	if !strings.HasPrefix(s, "-100") {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", s[4:], req.MsgID)
}

func untilString(t, now time.Time) string {
	if t.Before(now) {
		return "a moment"
	}
	return intervalText(t.Sub(now))
}

func (rt *Router) cmdRemind(ctx context.Context, req *Request) error {
	loc := req.Location(ctx)
	now := time.Now().UTC()

	when, rest, err := resolveWhen(req, now, loc)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(rest, " "))
	if text == "" {
		return fmt.Errorf("what should I remind you about?")
	}

	rules, err := buildRules(req.Flags, when)
	if err != nil {
		return err
	}
	dest, err := destinationFor(req)
	if err != nil {
		return err
	}
	target, err := targetFor(req)
	if err != nil {
		return err
	}

	title, _ := req.Flag("title")
	r := &reminder.Reminder{
		OwnerID:       req.From.ID,
		JumpURL:       jumpURLFor(req),
		Content:       reminder.Content{Kind: reminder.ContentText, Title: title, Text: text},
		Destination:   dest,
		Target:        target,
		CreatedAt:     now,
		ExpiresAt:     when,
		NextExpiresAt: when,
		Repeat:        rules,
	}
	return rt.create(ctx, req, r, now)
}

func (rt *Router) cmdSay(ctx context.Context, req *Request) error {
	loc := req.Location(ctx)
	now := time.Now().UTC()

	when, rest, err := resolveWhen(req, now, loc)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(rest, " "))
	image, _ := req.Flag("image")
	if text == "" && image == "" {
		return fmt.Errorf("what should I say?")
	}

	rules, err := buildRules(req.Flags, when)
	if err != nil {
		return err
	}
	dest, err := destinationFor(req)
	if err != nil {
		return err
	}

	r := &reminder.Reminder{
		OwnerID:       req.From.ID,
		Content:       reminder.Content{Kind: reminder.ContentSay, Text: text, ImageURL: image},
		Destination:   dest,
		CreatedAt:     now,
		ExpiresAt:     when,
		NextExpiresAt: when,
		Repeat:        rules,
	}
	return rt.create(ctx, req, r, now)
}

func (rt *Router) cmdCommand(ctx context.Context, req *Request) error {
	// The scheduled line keeps its own flags, so the split is explicit:
	// everything before the first ';' schedules, everything after runs.
	sched, line, found := strings.Cut(req.RawArgs, ";")
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if !found || line == "" {
		return fmt.Errorf("usage: /command <when> [--every <interval>] ; <command line>")
	}

	flags := map[string][]string{}
	schedArgs := extractFlags(splitArgs(sched), flags)

	loc := req.Location(ctx)
	now := time.Now().UTC()
	when, leftover, err := parseLeadingWhen(schedArgs, now, loc)
	if err != nil {
		return err
	}
	if len(leftover) > 0 {
		return fmt.Errorf("unexpected %q before ';'", strings.Join(leftover, " "))
	}
	rules, err := buildRules(flags, when)
	if err != nil {
		return err
	}

	name, _, _ := strings.Cut(line, " ")
	cmd, ok := rt.lookup(name)
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if cmd.OwnerOnly && !rt.isOperator(req.From.ID) {
		return fmt.Errorf("you are not allowed to schedule /%s", cmd.Name)
	}

	dest := req.Chat.ChatID
	if vs := flags["in"]; len(vs) > 0 {
		dest, err = strconv.ParseInt(vs[len(vs)-1], 10, 64)
		if err != nil {
			return fmt.Errorf("--in wants a numeric chat id, got %q", vs[len(vs)-1])
		}
	}

	r := &reminder.Reminder{
		OwnerID: req.From.ID,
		Content: reminder.Content{
			Kind:      reminder.ContentCommand,
			Command:   line,
			InvokerID: req.From.ID,
		},
		Destination:   dest,
		CreatedAt:     now,
		ExpiresAt:     when,
		NextExpiresAt: when,
		Repeat:        rules,
	}
	return rt.create(ctx, req, r, now)
}

// subjectOwner is the acted-on owner: the requester, or --owner for operators.
func (rt *Router) subjectOwner(req *Request) (int64, error) {
	v, ok := req.Flag("owner")
	if !ok {
		return req.From.ID, nil
	}
	if !rt.isOperator(req.From.ID) {
		return 0, fmt.Errorf("--owner is operator only")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--owner wants a user id, got %q", v)
	}
	return id, nil
}

func (rt *Router) cmdList(ctx context.Context, req *Request) error {
	owner, err := rt.subjectOwner(req)
	if err != nil {
		return err
	}
	rs, err := rt.cache.List(ctx, owner)
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		return req.Reply(ctx, "No reminders.")
	}
	now := time.Now().UTC()
	lines := make([]string, 0, len(rs)+1)
	lines = append(lines, fmt.Sprintf("%d reminder(s):", len(rs)))
	for _, r := range rs {
		lines = append(lines, r.Describe(now))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (rt *Router) cmdInfo(ctx context.Context, req *Request) error {
	owner, err := rt.subjectOwner(req)
	if err != nil {
		return err
	}
	if len(req.Args) != 1 {
		return fmt.Errorf("usage: /info <id>")
	}
	id, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return fmt.Errorf("reminder ids are numbers, got %q", req.Args[0])
	}
	r, ok, err := rt.cache.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no reminder #%d", id)
	}

	now := time.Now().UTC()
	loc := req.Location(ctx)
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder #%d (%s)\n", r.ID, r.Content.Kind)
	fmt.Fprintf(&b, "Content: %s\n", r.Content.Summary())
	fmt.Fprintf(&b, "Created: %s\n", r.CreatedAt.In(loc).Format("2006-01-02 15:04"))
	if r.Destination != 0 {
		fmt.Fprintf(&b, "Delivers to: chat %d\n", r.Destination)
	} else {
		b.WriteString("Delivers to: your private chat\n")
	}
	if r.Target != nil {
		m := r.Target.Mention
		if m == "" {
			m = fmt.Sprintf("user %d", r.Target.ID)
		}
		fmt.Fprintf(&b, "Notifies: %s\n", m)
	}
	if !r.LastExpiresAt.IsZero() {
		fmt.Fprintf(&b, "Last fired: %s ago\n", intervalText(now.Sub(r.LastExpiresAt)))
	}
	if r.NextExpiresAt.IsZero() {
		b.WriteString("Next fire: none (exhausted)\n")
	} else {
		fmt.Fprintf(&b, "Next fire: %s (in %s)\n",
			r.NextExpiresAt.In(loc).Format("2006-01-02 15:04"), untilString(r.NextExpiresAt, now))
	}
	if len(r.Repeat) > 0 {
		b.WriteString("Repeats:\n" + r.Repeat.Describe())
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (rt *Router) cmdForget(ctx context.Context, req *Request) error {
	owner, err := rt.subjectOwner(req)
	if err != nil {
		return err
	}
	if len(req.Args) < 1 {
		return fmt.Errorf("usage: /forget <id> confirm")
	}
	id, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return fmt.Errorf("reminder ids are numbers, got %q", req.Args[0])
	}
	if _, ok, err := rt.cache.Get(ctx, owner, id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("no reminder #%d", id)
	}

	_, yes := req.Flag("yes")
	confirmed := req.AssumeYes || yes ||
		(len(req.Args) > 1 && strings.EqualFold(req.Args[1], "confirm"))
	if !confirmed {
		return req.Reply(ctx, fmt.Sprintf("This deletes reminder #%d permanently. Run /forget %d confirm.", id, id))
	}
	if err := rt.cache.Delete(ctx, owner, id); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Reminder #%d forgotten.", id))
}

func (rt *Router) cmdPreview(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return fmt.Errorf("usage: /preview <id>")
	}
	id, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return fmt.Errorf("reminder ids are numbers, got %q", req.Args[0])
	}
	r, ok, err := rt.cache.Get(ctx, req.From.ID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no reminder #%d", id)
	}
	if rt.proc == nil {
		return fmt.Errorf("preview unavailable")
	}
	res, err := rt.proc.Process(ctx, r, time.Now().UTC(), true)
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}
	if res.Invoked {
		return req.Reply(ctx, "Command executed.")
	}
	return nil // the delivery itself is the feedback
}

func (rt *Router) cmdTimezone(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		tz, ok, err := rt.cache.Timezone(ctx, req.From.ID)
		if err != nil {
			return err
		}
		if !ok || tz == "" {
			return req.Reply(ctx, "No timezone set; times are read as UTC. Set one with /timezone Area/City.")
		}
		return req.Reply(ctx, "Your timezone is "+tz+".")
	}

	name := req.Args[0]
	if strings.EqualFold(name, "clear") || strings.EqualFold(name, "reset") {
		if err := rt.cache.SetTimezone(ctx, req.From.ID, ""); err != nil {
			return err
		}
		return req.Reply(ctx, "Timezone cleared; times are read as UTC again.")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("unknown timezone %q (use IANA names like Europe/Berlin)", name)
	}
	if err := rt.cache.SetTimezone(ctx, req.From.ID, loc.String()); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Timezone set to %s (now %s there).",
		loc, time.Now().In(loc).Format("15:04")))
}

func (rt *Router) cmdHelp(ctx context.Context, req *Request) error {
	rt.mu.RLock()
	names := append([]string(nil), rt.order...)
	rt.mu.RUnlock()

	operator := rt.isOperator(req.From.ID)
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range names {
		c, ok := rt.lookup(n)
		if !ok || c.Hidden || (c.OwnerOnly && !operator) {
			continue
		}
		fmt.Fprintf(&b, "%s\n    %s\n", c.Usage, c.Description)
	}
	b.WriteString("\nTimes are read in your /timezone. Quote cron expressions: --cron \"0 9 * * 1-5\".")
	return req.Reply(ctx, b.String())
}
