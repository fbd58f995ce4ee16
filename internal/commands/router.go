package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/tgui"

	logx "remindbot/pkg/logx"
)

// Command is one registered slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string

	// OwnerOnly commands require the caller to be a configured operator.
	// The check runs on every dispatch, including scheduled invocations, so
	// revoking an operator also revokes their stored command reminders.
	OwnerOnly bool

	// Hidden commands are dispatchable but left out of help and the menu.
	Hidden bool

	Handle func(ctx context.Context, req *Request) error
}

// Request carries one parsed invocation into a handler.
type Request struct {
	From kit.User
	Chat kit.ChatTarget

	// MsgID is the originating message, zero for scheduled invocations.
	MsgID int

	Command string
	Args    []string            // positional arguments, flags stripped
	Flags   map[string][]string // --flag value pairs
	RawArgs string              // everything after the command name, untrimmed of flags

	// AssumeYes suppresses confirmation prompts. Always set for scheduled
	// invocations, which have nobody to answer them.
	AssumeYes bool

	router *Router
}

// Flag returns the last value given for a flag.
func (r *Request) Flag(name string) (string, bool) {
	vs := r.Flags[name]
	if len(vs) == 0 {
		return "", false
	}
	return vs[len(vs)-1], true
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.router.adapter.SendText(ctx, r.Chat, text, nil)
	return err
}

// Location resolves the requesting user's timezone.
func (r *Request) Location(ctx context.Context) *time.Location {
	return r.router.userLocation(ctx, r.From.ID)
}

// Deps wires the router into the rest of the bot.
type Deps struct {
	Adapter kit.Adapter
	Cache   *reminder.Cache
	Proc    *reminder.Processor

	// Notify nudges the scheduler after a reminder is created or edited.
	Notify func()

	Log        logx.Logger
	MaxPerUser int
	DefaultLoc *time.Location
}

// Router parses updates into command invocations and dispatches them. It also
// implements reminder.Invoker so command-kind reminders run through the same
// registration and authorization path as live users.
type Router struct {
	adapter    kit.Adapter
	cache      *reminder.Cache
	proc       *reminder.Processor
	notify     func()
	log        logx.Logger
	maxPerUser int
	defaultLoc *time.Location

	// tokens backs inline buttons: callback_data carries a short token, the
	// reminder snapshot lives here.
	tokens *tgui.TokenStore

	mu        sync.RWMutex
	operators map[int64]struct{}
	cmds      map[string]*Command
	order     []string
}

func New(deps Deps) *Router {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	maxPer := deps.MaxPerUser
	if maxPer <= 0 {
		maxPer = 25
	}
	notify := deps.Notify
	if notify == nil {
		notify = func() {}
	}
	rt := &Router{
		adapter:    deps.Adapter,
		cache:      deps.Cache,
		proc:       deps.Proc,
		notify:     notify,
		log:        log,
		maxPerUser: maxPer,
		defaultLoc: deps.DefaultLoc,
		tokens:     tgui.NewTokenStore().WithTTL(6 * time.Hour),
		operators:  map[int64]struct{}{},
		cmds:       map[string]*Command{},
	}
	rt.registerBuiltins()
	return rt
}

// Register adds a command and its aliases. Duplicate names are an error.
func (rt *Router) Register(cmd *Command) error {
	if cmd == nil || cmd.Name == "" || cmd.Handle == nil {
		return fmt.Errorf("command requires a name and a handler")
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	names := append([]string{cmd.Name}, cmd.Aliases...)
	for _, n := range names {
		n = strings.ToLower(n)
		if _, dup := rt.cmds[n]; dup {
			return fmt.Errorf("command %q already registered", n)
		}
	}
	for _, n := range names {
		rt.cmds[strings.ToLower(n)] = cmd
	}
	rt.order = append(rt.order, strings.ToLower(cmd.Name))
	return nil
}

// SetOperators replaces the operator id set. Safe to call on config reload.
func (rt *Router) SetOperators(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	rt.mu.Lock()
	rt.operators = m
	rt.mu.Unlock()
}

func (rt *Router) isOperator(id int64) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.operators[id]
	return ok
}

func (rt *Router) lookup(name string) (*Command, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	c, ok := rt.cmds[strings.ToLower(name)]
	return c, ok
}

// MenuCommands lists visible commands for the platform command menu.
func (rt *Router) MenuCommands() []kit.BotCommand {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(rt.order))
	for _, n := range rt.order {
		c := rt.cmds[n]
		if c == nil || c.Hidden || c.OwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Run consumes updates until ctx is canceled.
func (rt *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			rt.HandleUpdate(ctx, up)
		}
	}
}

func (rt *Router) HandleUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			rt.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			rt.handleCallback(ctx, up.Callback)
		}
	}
}

func (rt *Router) handleMessage(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	name, rawArgs, _ := strings.Cut(text[1:], " ")
	// Group chats address commands as /name@botname.
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return
	}

	cmd, ok := rt.lookup(name)
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !ok {
		// Stay quiet in groups; other bots share the slash namespace there.
		if !msg.IsGroup {
			_, _ = rt.adapter.SendText(ctx, chat, fmt.Sprintf("Unknown command /%s. Try /help.", name), nil)
		}
		return
	}

	from := kit.User{ID: msg.FromID, Username: msg.FromUsername}
	if cmd.OwnerOnly && !rt.isOperator(from.ID) {
		_, _ = rt.adapter.SendText(ctx, chat, "You are not allowed to use this command.", nil)
		return
	}

	flags := map[string][]string{}
	args := extractFlags(splitArgs(rawArgs), flags)
	req := &Request{
		From:    from,
		Chat:    chat,
		MsgID:   msg.ID,
		Command: cmd.Name,
		Args:    args,
		Flags:   flags,
		RawArgs: rawArgs,
		router:  rt,
	}
	if err := cmd.Handle(ctx, req); err != nil {
		rt.log.Warn("command failed",
			logx.String("command", cmd.Name),
			logx.Int64("from", from.ID),
			logx.Err(err),
		)
		_, _ = rt.adapter.SendText(ctx, chat, "Error: "+err.Error(), nil)
	}
}

// Invoke dispatches a stored command line on behalf of its original invoker.
// An unregistered command reports Valid=false; a registered owner-only
// command whose invoker lost operator status reports Authorized=false. The
// handler runs with AssumeYes so confirmation prompts cannot wedge it.
func (rt *Router) Invoke(ctx context.Context, invoker kit.User, dest kit.ChatTarget, line string) (reminder.Invocation, error) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	name, rawArgs, _ := strings.Cut(line, " ")
	if name == "" {
		return reminder.Invocation{}, nil
	}
	cmd, ok := rt.lookup(name)
	if !ok {
		return reminder.Invocation{}, nil
	}
	if cmd.OwnerOnly && !rt.isOperator(invoker.ID) {
		return reminder.Invocation{Valid: true}, nil
	}

	flags := map[string][]string{}
	args := extractFlags(splitArgs(rawArgs), flags)
	req := &Request{
		From:      invoker,
		Chat:      dest,
		Command:   cmd.Name,
		Args:      args,
		Flags:     flags,
		RawArgs:   rawArgs,
		AssumeYes: true,
		router:    rt,
	}
	if err := cmd.Handle(ctx, req); err != nil {
		return reminder.Invocation{Valid: true, Authorized: true}, err
	}
	return reminder.Invocation{Valid: true, Authorized: true}, nil
}

func (rt *Router) userLocation(ctx context.Context, user int64) *time.Location {
	fallback := rt.defaultLoc
	if fallback == nil {
		fallback = time.UTC
	}
	if rt.cache == nil {
		return fallback
	}
	tz, ok, err := rt.cache.Timezone(ctx, user)
	if err != nil || !ok || tz == "" {
		return fallback
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fallback
	}
	return loc
}
