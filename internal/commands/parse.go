package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/recurrence"
)

// splitArgs tokenizes a command line, honoring double quotes so cron
// expressions ("0 9 * * 1-5") survive as one token.
func splitArgs(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// extractFlags pulls --flag value pairs out of an argument list and returns
// the remaining positional arguments. A repeated flag collects all values.
func extractFlags(args []string, flags map[string][]string) []string {
	var rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			name := strings.ToLower(a[2:])
			val := ""
			if i+1 < len(args) {
				val = args[i+1]
				i++
			}
			flags[name] = append(flags[name], val)
			continue
		}
		rest = append(rest, a)
	}
	return rest
}

var reDeltaToken = regexp.MustCompile(`(?i)(\d+)\s*(y|years?|mo|months?|w|weeks?|d|days?|h|hours?|m|min|minutes?|s|sec|seconds?)`)

// ParseDelta reads a calendar delta like "1d12h", "2 weeks", "1y6mo".
// Plain "m" means minutes; months are "mo".
func ParseDelta(raw string) (recurrence.Delta, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return recurrence.Delta{}, fmt.Errorf("interval required")
	}

	matches := reDeltaToken.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return recurrence.Delta{}, fmt.Errorf("invalid interval %q (use forms like '30m', '1d12h', '2 weeks', '1mo')", raw)
	}
	// Reject trailing garbage like "1d banana".
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == ',' {
			return -1
		}
		return r
	}, s)
	strippedMatched := 0
	for _, m := range matches {
		strippedMatched += len(strings.Map(func(r rune) rune {
			if r == ' ' || r == ',' {
				return -1
			}
			return r
		}, m[0]))
	}
	if strippedMatched != len(stripped) {
		return recurrence.Delta{}, fmt.Errorf("invalid interval %q", raw)
	}

	var d recurrence.Delta
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 {
			return recurrence.Delta{}, fmt.Errorf("invalid interval %q", raw)
		}
		switch unit := strings.ToLower(m[2]); {
		case unit == "y" || strings.HasPrefix(unit, "year"):
			d.Years += n
		case unit == "mo" || strings.HasPrefix(unit, "month"):
			d.Months += n
		case unit == "w" || strings.HasPrefix(unit, "week"):
			d.Weeks += n
		case unit == "d" || strings.HasPrefix(unit, "day"):
			d.Days += n
		case unit == "h" || strings.HasPrefix(unit, "hour"):
			d.Hours += n
		case unit == "m" || unit == "min" || strings.HasPrefix(unit, "minute"):
			d.Minutes += n
		default:
			d.Seconds += n
		}
	}
	if (d == recurrence.Delta{}) {
		return recurrence.Delta{}, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

var reAtHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseWhen resolves a first-fire time expression in the user's timezone.
//
// Supported forms:
//   - delta from now: "10m", "1d12h", "2 weeks" (optionally prefixed "in ")
//   - wall clock: "15:04" (next occurrence), "tomorrow 09:00"
//   - absolute: "2006-01-02 15:04"
//
// The result is UTC.
func ParseWhen(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.ToLower(s), "in ")
	if s == "" {
		return time.Time{}, fmt.Errorf("time required")
	}
	if loc == nil {
		loc = time.UTC
	}

	if strings.HasPrefix(s, "tomorrow") {
		rest := strings.TrimSpace(strings.TrimPrefix(s, "tomorrow"))
		local := now.In(loc)
		hh, mm := 9, 0
		if rest != "" {
			m := reAtHHMM.FindStringSubmatch(rest)
			if m == nil {
				return time.Time{}, fmt.Errorf("invalid time %q (use 'tomorrow HH:MM')", raw)
			}
			hh, _ = strconv.Atoi(m[1])
			mm, _ = strconv.Atoi(m[2])
		}
		t := time.Date(local.Year(), local.Month(), local.Day()+1, hh, mm, 0, 0, loc)
		return t.UTC(), nil
	}

	if m := reAtHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return time.Time{}, fmt.Errorf("invalid time %q", raw)
		}
		local := now.In(loc)
		t := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !t.After(local) {
			t = t.AddDate(0, 0, 1)
		}
		return t.UTC(), nil
	}

	if t, err := time.ParseInLocation("2006-01-02 15:04", s, loc); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t.UTC(), nil
	}

	if d, err := ParseDelta(s); err == nil {
		return d.Add(now.UTC()), nil
	}

	return time.Time{}, fmt.Errorf(
		"invalid time %q (use a delay like '10m' or '1d12h', a clock time like '15:04', 'tomorrow 09:00', or '2006-01-02 15:04')",
		raw,
	)
}

// buildRules assembles the recurrence set from --every/--cron/--rrule flags.
// Every rule is validated up front; a reminder with an unparseable rule must
// be rejected at creation, not when it fires.
func buildRules(flags map[string][]string, start time.Time) (recurrence.Set, error) {
	var set recurrence.Set
	for _, v := range flags["every"] {
		delta, err := ParseDelta(v)
		if err != nil {
			return nil, err
		}
		set = append(set, recurrence.Rule{Kind: recurrence.KindEvery, Every: delta, Start: start})
	}
	for _, v := range flags["cron"] {
		set = append(set, recurrence.Rule{Kind: recurrence.KindCron, Expr: v, Start: start})
	}
	for _, v := range flags["rrule"] {
		set = append(set, recurrence.Rule{Kind: recurrence.KindRRule, Expr: v, Start: start})
	}
	if len(set) == 0 {
		return nil, nil
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
