package scheduler

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.queue:
			s.processOne(ctx, r)
		}
	}
}

func (s *Service) processOne(ctx context.Context, r *reminder.Reminder) {
	defer s.release(r.Key())

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	now := time.Now().UTC()
	res, err := s.proc.Process(pctx, r, now, false)
	if err != nil {
		s.reportFailure(r, err)
		return
	}

	s.log.Info("reminder fired",
		logx.Int64("owner", r.OwnerID),
		logx.Int("id", r.ID),
		logx.String("kind", string(r.Content.Kind)),
		logx.Duration("delayed", res.Delayed),
		logx.Bool("recurs", !r.NextExpiresAt.IsZero()),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventFired, Data: map[string]any{
			"owner":   r.OwnerID,
			"id":      r.ID,
			"kind":    string(r.Content.Kind),
			"delayed": res.Delayed.Seconds(),
			"invoked": res.Invoked,
		}})
	}
}

func (s *Service) reportFailure(r *reminder.Reminder, err error) {
	deleted := true
	var fe *reminder.FailError
	if errors.As(err, &fe) {
		deleted = fe.Deleted
	}

	// An unavailable or failing command is transient: the reminder stays
	// stored and the next scan will try again once it is due again (or an
	// operator inspects it). Everything else is terminal.
	switch {
	case errors.Is(err, reminder.ErrCommandUnavailable):
		s.log.Warn("reminder command unavailable; keeping", logx.Err(err))
	case errors.Is(err, reminder.ErrCommandFailed):
		s.log.Warn("reminder command failed; keeping", logx.Err(err))
	default:
		s.log.Error("reminder processing failed", logx.Err(err))
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventFailed, Data: map[string]any{
			"owner":   r.OwnerID,
			"id":      r.ID,
			"kind":    string(r.Content.Kind),
			"err":     err.Error(),
			"deleted": deleted,
		}})
	}
}
