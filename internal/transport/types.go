package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// User is a resolved platform identity.
type User struct {
	ID          int64
	Username    string
	DisplayName string
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	Silent             bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Attachment is a file delivered alongside a message, already fetched into
// memory (reminder attachments are stored as URLs and downloaded at fire time).
type Attachment struct {
	Name string
	Data []byte
}

// Outgoing is a full reminder delivery: text plus optional attachments, an
// optional reply reference (used when the destination is the chat the
// reminder was created in), and optional inline keyboard.
type Outgoing struct {
	Text        string
	Options     SendOptions
	Attachments []Attachment
	ReplyTo     *MessageRef
}

// Adapter is the delivery sink: it transmits content to a destination chat.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMessage(ctx context.Context, to ChatTarget, msg Outgoing) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// Directory resolves platform identities. A clean miss is (zero, false, nil);
// a non-nil error means the lookup itself failed (network, auth) and callers
// treat it the same as a miss for delivery decisions.
type Directory interface {
	ResolveUser(ctx context.Context, id int64) (User, bool, error)
	ResolveChat(ctx context.Context, id int64) (ChatTarget, bool, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
