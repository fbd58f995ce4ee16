package reminder

import (
	"errors"
	"fmt"
)

type ContentKind string

const (
	// ContentText is a personal "remind me" note delivered back to the owner.
	ContentText ContentKind = "text"
	// ContentSay posts the stored text verbatim, without the reminder framing.
	ContentSay ContentKind = "say"
	// ContentMessage echoes a saved message reference back to the owner.
	ContentMessage ContentKind = "message"
	// ContentCommand invokes a bot command with the invoker's privileges.
	ContentCommand ContentKind = "command"
)

// Author identifies who wrote an echoed message.
type Author struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Mention     string `json:"mention,omitempty"`
}

// Content is the tagged payload of a reminder. Only the fields of the active
// kind are meaningful; the rest stay empty and are omitted from storage.
type Content struct {
	Kind ContentKind `json:"type"`

	Title    string `json:"title,omitempty"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	// Files maps attachment name to the URL it is fetched from at fire time.
	Files map[string]string `json:"files,omitempty"`

	// Message-echo reference.
	MessageJumpURL string  `json:"message_jump_url,omitempty"`
	MessageAuthor  *Author `json:"message_author,omitempty"`

	// Command invocation.
	Command   string `json:"command,omitempty"`
	InvokerID int64  `json:"command_invoker,omitempty"`
}

// Validate rejects payloads that could fire but deliver nothing.
func (c Content) Validate() error {
	switch c.Kind {
	case ContentText:
		if c.Text == "" && c.MessageJumpURL == "" && len(c.Files) == 0 && c.ImageURL == "" {
			return errors.New("text reminder has no body")
		}
	case ContentSay:
		if c.Text == "" && len(c.Files) == 0 && c.ImageURL == "" {
			return errors.New("say reminder has no body")
		}
	case ContentMessage:
		if c.MessageJumpURL == "" {
			return errors.New("message reminder has no message reference")
		}
	case ContentCommand:
		if c.Command == "" {
			return errors.New("command reminder has no command line")
		}
		if c.InvokerID == 0 {
			return errors.New("command reminder has no invoker")
		}
	case "":
		return errors.New("content kind missing")
	default:
		return fmt.Errorf("unknown content kind %q", c.Kind)
	}
	return nil
}
