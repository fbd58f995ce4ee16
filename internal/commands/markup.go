package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/tgui"

	logx "remindbot/pkg/logx"
)

// buttonPayload is the snapshot behind a snooze/me-too button. Delivered
// non-recurring reminders are already deleted when the button is pressed, so
// the button must carry its own copy of the record.
type buttonPayload struct {
	Owner  int64           `json:"o"`
	Record json.RawMessage `json:"r"`
}

// DeliveryMarkup builds the inline keyboard attached to delivered reminders.
// Wire it into the processor's Markup hook. Returns nil when the snapshot
// cannot be taken; a delivery without buttons beats no delivery.
func (rt *Router) DeliveryMarkup(r *reminder.Reminder) any {
	data, err := r.MarshalRecord()
	if err != nil {
		return nil
	}
	tok, err := rt.tokens.PutJSON(buttonPayload{Owner: r.OwnerID, Record: data})
	if err != nil {
		return nil
	}

	return tgui.NewInline().
		Row(
			tgui.Btn("Snooze 10m", tgui.Data("rem", "snooze", tok+":10m")),
			tgui.Btn("Snooze 1h", tgui.Data("rem", "snooze", tok+":1h")),
			tgui.Btn("Snooze 1d", tgui.Data("rem", "snooze", tok+":1d")),
		).
		Row(tgui.Btn("Me too", tgui.Data("rem", "metoo", tok))).
		Markup()
}

func (rt *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) < 2 || parts[0] != "rem" {
		return
	}
	action := parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	var answer string
	var err error
	switch action {
	case "snooze":
		answer, err = rt.snoozeCallback(ctx, cb, payload)
	case "metoo":
		answer, err = rt.meTooCallback(ctx, cb, payload)
	default:
		return
	}
	if err != nil {
		rt.log.Warn("callback failed",
			logx.String("action", action), logx.Int64("from", cb.FromID), logx.Err(err))
		answer = err.Error()
	}
	if aerr := rt.adapter.AnswerCallback(ctx, cb.ID, answer); aerr != nil {
		rt.log.Warn("callback answer failed", logx.Err(aerr))
	}
}

func (rt *Router) loadButton(payload string) (*buttonPayload, error) {
	var p buttonPayload
	if err := rt.tokens.GetJSON(payload, &p); err != nil {
		return nil, fmt.Errorf("this button has expired")
	}
	return &p, nil
}

func (rt *Router) snoozeCallback(ctx context.Context, cb *kit.Callback, payload string) (string, error) {
	tok, deltaStr, ok := strings.Cut(payload, ":")
	if !ok {
		return "", fmt.Errorf("this button has expired")
	}
	p, err := rt.loadButton(tok)
	if err != nil {
		return "", err
	}
	if cb.FromID != p.Owner {
		return "Only the reminder's owner can snooze it.", nil
	}
	delta, err := ParseDelta(deltaStr)
	if err != nil {
		return "", fmt.Errorf("this button has expired")
	}

	tmpl, err := reminder.UnmarshalRecord(p.Owner, p.Record)
	if err != nil {
		return "", fmt.Errorf("this button has expired")
	}

	now := time.Now().UTC()
	when := delta.Add(now)
	copyR := &reminder.Reminder{
		OwnerID:       p.Owner,
		JumpURL:       tmpl.JumpURL,
		Snooze:        true,
		Content:       tmpl.Content,
		Destination:   tmpl.Destination,
		Target:        tmpl.Target,
		CreatedAt:     now,
		ExpiresAt:     when,
		NextExpiresAt: when,
	}
	if err := rt.saveCopy(ctx, copyR); err != nil {
		return "", err
	}
	return fmt.Sprintf("Snoozed as #%d, fires in %s.", copyR.ID, intervalText(when.Sub(now))), nil
}

func (rt *Router) meTooCallback(ctx context.Context, cb *kit.Callback, payload string) (string, error) {
	p, err := rt.loadButton(payload)
	if err != nil {
		return "", err
	}
	if cb.FromID == p.Owner {
		return "This is already your reminder.", nil
	}
	tmpl, err := reminder.UnmarshalRecord(p.Owner, p.Record)
	if err != nil {
		return "", fmt.Errorf("this button has expired")
	}

	// The copy waits as long as the original did, with a floor so an
	// immediate reminder doesn't re-fire in the same second.
	now := time.Now().UTC()
	wait := tmpl.ExpiresAt.Sub(tmpl.CreatedAt)
	if wait < time.Minute {
		wait = time.Minute
	}
	when := now.Add(wait)

	copyR := &reminder.Reminder{
		OwnerID:       cb.FromID,
		MeToo:         true,
		Content:       tmpl.Content,
		CreatedAt:     now,
		ExpiresAt:     when,
		NextExpiresAt: when,
	}
	if err := rt.saveCopy(ctx, copyR); err != nil {
		return "", err
	}
	return fmt.Sprintf("Copied as your reminder #%d, fires in %s.", copyR.ID, intervalText(wait)), nil
}

func (rt *Router) saveCopy(ctx context.Context, r *reminder.Reminder) error {
	n, err := rt.cache.Count(ctx, r.OwnerID)
	if err != nil {
		return err
	}
	if n >= rt.maxPerUser {
		return fmt.Errorf("you already have %d reminders", n)
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
	return nil
}
