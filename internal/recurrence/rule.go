package recurrence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"
)

// ErrInvalidRule marks a rule that cannot be evaluated (bad cron or RRULE
// expression, empty interval, missing anchor). It is a configuration error,
// not "no more occurrences": callers must reject it at scheduling time and
// surface it loudly if it slips through to computation.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Kind is the closed set of rule variants.
type Kind uint8

const (
	KindEvery Kind = iota + 1 // fixed calendar interval
	KindCron                  // 5-field cron expression
	KindRRule                 // RFC 5545 RRULE string
)

func (k Kind) String() string {
	switch k {
	case KindEvery:
		return "every"
	case KindCron:
		return "cron"
	case KindRRule:
		return "rrule"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Standard 5-field crontab plus @hourly-style descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Delta is a calendar-aware interval. Months and years follow calendar
// arithmetic (Jan 31 + 1 month = Mar 2/3 per time.AddDate), not a fixed
// number of hours, which is what "every month" means to users.
type Delta struct {
	Years   int `json:"years,omitempty"`
	Months  int `json:"months,omitempty"`
	Weeks   int `json:"weeks,omitempty"`
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Seconds int `json:"seconds,omitempty"`
}

func (d Delta) IsZero() bool {
	return d == Delta{}
}

func (d Delta) valid() bool {
	if d.IsZero() {
		return false
	}
	for _, v := range []int{d.Years, d.Months, d.Weeks, d.Days, d.Hours, d.Minutes, d.Seconds} {
		if v < 0 {
			return false
		}
	}
	return true
}

// Add advances t by the delta, calendar part first.
func (d Delta) Add(t time.Time) time.Time {
	t = t.AddDate(d.Years, d.Months, d.Weeks*7+d.Days)
	return t.Add(time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second)
}

func (d Delta) String() string {
	parts := make([]string, 0, 7)
	add := func(n int, unit string) {
		if n == 0 {
			return
		}
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit))
			return
		}
		parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
	}
	add(d.Years, "year")
	add(d.Months, "month")
	add(d.Weeks, "week")
	add(d.Days, "day")
	add(d.Hours, "hour")
	add(d.Minutes, "minute")
	add(d.Seconds, "second")
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, " ")
}

// Rule is one recurrence rule plus its trigger bookkeeping.
//
// Start is the anchor time (required for KindRRule, optional seed otherwise).
// First and Last record the first and most recent computed triggers; Last is
// monotonically non-decreasing once set.
type Rule struct {
	Kind  Kind
	Every Delta  // KindEvery payload
	Expr  string // KindCron / KindRRule payload

	Start time.Time
	First time.Time
	Last  time.Time
}

// Validate rejects rules that can never be evaluated. It is called when a
// rule is scheduled so configuration errors don't sit dormant in storage.
func (r Rule) Validate() error {
	switch r.Kind {
	case KindEvery:
		if !r.Every.valid() {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidRule)
		}
		return nil
	case KindCron:
		if _, err := cronParser.Parse(r.Expr); err != nil {
			return fmt.Errorf("%w: cron %q: %v", ErrInvalidRule, r.Expr, err)
		}
		return nil
	case KindRRule:
		if r.Start.IsZero() {
			return fmt.Errorf("%w: rrule requires a start time", ErrInvalidRule)
		}
		if _, err := rrule.StrToROption(strings.TrimPrefix(r.Expr, "RRULE:")); err != nil {
			return fmt.Errorf("%w: rrule %q: %v", ErrInvalidRule, r.Expr, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidRule, uint8(r.Kind))
	}
}

// Next computes the next trigger strictly later than lastFired, advancing
// past now. It returns the rule with updated bookkeeping, the trigger in UTC,
// and an error only for invalid rules. A zero trigger means the rule is
// exhausted (COUNT/UNTIL consumed, or cron with no reachable occurrence).
//
// Semantics per kind:
//   - every: repeatedly add the delta to lastFired until the result is >= now.
//   - cron:  advance strictly-after lastFired in loc, stop at the first
//     candidate >= now.
//   - rrule: first occurrence strictly after now in loc, renormalized to UTC.
//
// If the remembered last trigger (or the anchor) is already later than
// lastFired, it is an unfired occurrence and is returned unchanged so it is
// not skipped.
func (r Rule) Next(lastFired, now time.Time, loc *time.Location) (Rule, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	seed := r.Last
	if seed.IsZero() {
		seed = r.Start
	}
	if seed.IsZero() {
		seed = lastFired
	}
	r.Last = seed
	if seed.After(lastFired) {
		return r, seed, nil
	}

	var next time.Time
	switch r.Kind {
	case KindEvery:
		if !r.Every.valid() {
			return r, time.Time{}, fmt.Errorf("%w: interval must be positive", ErrInvalidRule)
		}
		next = r.Every.Add(lastFired)
		for next.Before(now) {
			next = r.Every.Add(next)
		}
	case KindCron:
		sched, err := cronParser.Parse(r.Expr)
		if err != nil {
			return r, time.Time{}, fmt.Errorf("%w: cron %q: %v", ErrInvalidRule, r.Expr, err)
		}
		next = sched.Next(lastFired.In(loc))
		for !next.IsZero() && next.Before(now) {
			next = sched.Next(next)
		}
		if next.IsZero() {
			return r, time.Time{}, nil
		}
		next = next.UTC()
	case KindRRule:
		rl, err := r.buildRRule(loc)
		if err != nil {
			return r, time.Time{}, err
		}
		// Timezone renormalization after computation is mandatory here:
		// the rule evaluates in the user's location, storage stays UTC.
		next = rl.After(now.In(loc), false)
		if next.IsZero() {
			return r, time.Time{}, nil
		}
		next = next.UTC()
	default:
		return r, time.Time{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidRule, uint8(r.Kind))
	}

	if r.First.IsZero() {
		r.First = next
	}
	if next.After(r.Last) {
		r.Last = next
	}
	return r, next, nil
}

func (r Rule) buildRRule(loc *time.Location) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(strings.TrimPrefix(r.Expr, "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("%w: rrule %q: %v", ErrInvalidRule, r.Expr, err)
	}
	if r.Start.IsZero() {
		return nil, fmt.Errorf("%w: rrule requires a start time", ErrInvalidRule)
	}
	opt.Dtstart = r.Start.In(loc)
	rl, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: rrule %q: %v", ErrInvalidRule, r.Expr, err)
	}
	return rl, nil
}

// Describe renders a short human-readable form for list/info output.
func (r Rule) Describe() string {
	switch r.Kind {
	case KindEvery:
		return "[EVERY] " + r.Every.String()
	case KindCron:
		return "[CRON] " + r.Expr
	case KindRRule:
		return "[RRULE] " + strings.TrimPrefix(r.Expr, "RRULE:")
	default:
		return "[?]"
	}
}

// Wire form: {"type","value","start_trigger?","first_trigger?","last_trigger?"}
// with epoch-second timestamps. "value" is a delta object for the every kind
// and an expression string otherwise. The legacy type name "sample" is
// accepted as an alias for "every".
type ruleWire struct {
	Type         string          `json:"type"`
	Value        json.RawMessage `json:"value"`
	StartTrigger int64           `json:"start_trigger,omitempty"`
	FirstTrigger int64           `json:"first_trigger,omitempty"`
	LastTrigger  int64           `json:"last_trigger,omitempty"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	w := ruleWire{
		Type:         r.Kind.String(),
		StartTrigger: epoch(r.Start),
		FirstTrigger: epoch(r.First),
		LastTrigger:  epoch(r.Last),
	}
	var err error
	switch r.Kind {
	case KindEvery:
		w.Value, err = json.Marshal(r.Every)
	case KindCron, KindRRule:
		w.Value, err = json.Marshal(r.Expr)
	default:
		err = fmt.Errorf("%w: unknown kind %d", ErrInvalidRule, uint8(r.Kind))
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	var w ruleWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Rule{
		Start: fromEpoch(w.StartTrigger),
		First: fromEpoch(w.FirstTrigger),
		Last:  fromEpoch(w.LastTrigger),
	}
	switch strings.ToLower(strings.TrimSpace(w.Type)) {
	case "every", "sample":
		out.Kind = KindEvery
		if err := json.Unmarshal(w.Value, &out.Every); err != nil {
			return fmt.Errorf("%w: bad interval value: %v", ErrInvalidRule, err)
		}
	case "cron":
		out.Kind = KindCron
		if err := json.Unmarshal(w.Value, &out.Expr); err != nil {
			return fmt.Errorf("%w: bad cron value: %v", ErrInvalidRule, err)
		}
	case "rrule":
		out.Kind = KindRRule
		if err := json.Unmarshal(w.Value, &out.Expr); err != nil {
			return fmt.Errorf("%w: bad rrule value: %v", ErrInvalidRule, err)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, w.Type)
	}
	*r = out
	return nil
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromEpoch(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
