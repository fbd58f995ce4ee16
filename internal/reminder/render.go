package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// intervalString renders a duration the way people say it ("2 days, 3 hours").
// At most two units; sub-second or zero collapses to "just now".
func intervalString(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	secs := int64(d.Seconds())
	if secs < 1 {
		return "just now"
	}

	units := []struct {
		name string
		size int64
	}{
		{"year", 365 * 24 * 3600},
		{"month", 30 * 24 * 3600},
		{"day", 24 * 3600},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	parts := make([]string, 0, 2)
	for _, u := range units {
		if n := secs / u.size; n > 0 {
			label := u.name
			if n > 1 {
				label += "s"
			}
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
			secs -= n * u.size
			if len(parts) == 2 {
				break
			}
		}
	}
	return strings.Join(parts, ", ")
}

// delayFor reports how late a fire is, treating delays within the tolerance
// window as on-time (clock and polling jitter).
func delayFor(r *Reminder, now time.Time) time.Duration {
	ref := r.LastExpiresAt
	if ref.IsZero() {
		ref = r.NextExpiresAt
	}
	if ref.IsZero() {
		return 0
	}
	delayed := now.Sub(ref)
	if delayed <= 60*time.Second {
		return 0
	}
	return delayed
}

// renderDelivered builds the delivered message body for text/message kinds.
// Say reminders go out verbatim and skip this framing.
func renderDelivered(r *Reminder, now time.Time) string {
	delayed := delayFor(r, now)

	var b strings.Builder

	b.WriteString("🔔 ")
	if delayed > 0 {
		b.WriteString("(Delayed) ")
	}
	if r.Snooze {
		b.WriteString("[Snoozed] ")
	}
	if r.MeToo {
		b.WriteString("[Me Too] ")
	}
	if !r.NextExpiresAt.IsZero() {
		b.WriteString("Repeating ")
	}
	fmt.Fprintf(&b, "Reminder #%d 🔔\n", r.ID)

	fired := r.LastExpiresAt
	if fired.IsZero() {
		fired = r.NextExpiresAt
	}
	age := intervalString(fired.Sub(r.CreatedAt))
	if age != "just now" {
		age += " ago"
	}

	if r.Content.Kind == ContentMessage {
		author := ""
		if r.Content.MessageAuthor != nil {
			who := r.Content.MessageAuthor.Mention
			if who == "" {
				who = r.Content.MessageAuthor.DisplayName
			}
			author = fmt.Sprintf(" from %s", who)
		}
		fmt.Fprintf(&b, "You asked me to remind you about this message%s (%s), %s.\n", r.Content.MessageJumpURL, author, age)
	} else {
		this := "that"
		if r.Content.Text != "" {
			this = "this"
		}
		fmt.Fprintf(&b, "You asked me to remind you about %s, %s.\n", this, age)
	}

	if r.Content.Title != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Content.Title)
	}
	if r.Content.Text != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Content.Text)
	}
	if r.Content.ImageURL != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Content.ImageURL)
	}

	footer := renderFooter(r, now, delayed)
	if footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderFooter(r *Reminder, now time.Time, delayed time.Duration) string {
	var b strings.Builder
	if delayed > 0 {
		fmt.Fprintf(&b,
			"This was supposed to send %s ago. I might be having network or server issues, or perhaps I just started up. Sorry about that!\n",
			intervalString(delayed))
	}
	if !r.NextExpiresAt.IsZero() {
		fmt.Fprintf(&b, "Next trigger in %s.\n", intervalString(r.NextExpiresAt.Sub(now)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseJumpRef extracts (chatID, messageID) from a message link. Accepted
// forms end in .../<chat>/<message>; t.me/c/<internal>/<message> links carry
// the internal supergroup id, which maps to -100<internal>.
func parseJumpRef(url string) (int64, int, bool) {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	parts := strings.Split(url, "/")
	if len(parts) < 2 {
		return 0, 0, false
	}
	msgID, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || msgID <= 0 {
		return 0, 0, false
	}
	chatRaw := parts[len(parts)-2]
	chatID, err := strconv.ParseInt(chatRaw, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	// t.me/c/<id>/<msg> style: internal id, prefix with -100.
	if len(parts) >= 3 && parts[len(parts)-3] == "c" && chatID > 0 {
		full, err := strconv.ParseInt("-100"+chatRaw, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		chatID = full
	}
	return chatID, msgID, true
}
