package recurrence

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestEveryAdvancesWholeIntervals(t *testing.T) {
	t.Parallel()
	r := Rule{Kind: KindEvery, Every: Delta{Days: 1}}
	lastFired := utc(2024, time.January, 1, 0, 0)
	now := utc(2024, time.January, 10, 12, 0)

	nr, next, err := r.Next(lastFired, now, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := utc(2024, time.January, 11, 0, 0)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if !nr.Last.Equal(want) {
		t.Fatalf("Last = %v, want %v", nr.Last, want)
	}
	if !nr.First.Equal(want) {
		t.Fatalf("First = %v, want %v", nr.First, want)
	}
}

func TestEveryCalendarMonthSemantics(t *testing.T) {
	t.Parallel()
	r := Rule{Kind: KindEvery, Every: Delta{Months: 1}}
	lastFired := utc(2024, time.January, 31, 9, 0)
	now := lastFired.Add(time.Minute)

	_, next, err := r.Next(lastFired, now, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	// Jan 31 + 1 calendar month normalizes to Mar 2 in a leap year,
	// not a fixed 30-day jump.
	want := utc(2024, time.March, 2, 9, 0)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestEveryUnfiredSeedReturnedUnchanged(t *testing.T) {
	t.Parallel()
	pending := utc(2024, time.June, 1, 8, 0)
	r := Rule{Kind: KindEvery, Every: Delta{Hours: 1}, Last: pending}
	lastFired := utc(2024, time.May, 31, 8, 0)

	nr, next, err := r.Next(lastFired, lastFired, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !next.Equal(pending) {
		t.Fatalf("next = %v, want pending %v", next, pending)
	}
	if !nr.Last.Equal(pending) {
		t.Fatalf("Last moved: %v", nr.Last)
	}
}

func TestCronAdvancesStrictlyAfter(t *testing.T) {
	t.Parallel()
	r := Rule{Kind: KindCron, Expr: "0 * * * *"}
	lastFired := utc(2024, time.April, 2, 10, 0)
	now := utc(2024, time.April, 2, 12, 30)

	_, next, err := r.Next(lastFired, now, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := utc(2024, time.April, 2, 13, 0)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestCronEvaluatesInUserTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	r := Rule{Kind: KindCron, Expr: "0 9 * * *"}
	lastFired := utc(2024, time.June, 1, 0, 0)

	_, next, err := r.Next(lastFired, lastFired, loc)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	// 09:00 EDT == 13:00 UTC, returned normalized to UTC.
	want := utc(2024, time.June, 1, 13, 0)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if next.Location() != time.UTC {
		t.Fatalf("next not UTC: %v", next.Location())
	}
}

func TestRRuleCountExhaustion(t *testing.T) {
	t.Parallel()
	start := utc(2024, time.January, 1, 10, 0)
	r := Rule{Kind: KindRRule, Expr: "RRULE:FREQ=DAILY;COUNT=3", Start: start}

	// Second occurrence is the first strictly after Jan 1 12:00.
	_, next, err := r.Next(start, utc(2024, time.January, 1, 12, 0), time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := utc(2024, time.January, 2, 10, 0)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Past the last of the three occurrences the rule is exhausted, not an error.
	_, next, err = r.Next(utc(2024, time.January, 3, 10, 0), utc(2024, time.January, 5, 0, 0), time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !next.IsZero() {
		t.Fatalf("expected exhaustion, got %v", next)
	}
}

func TestLastIsMonotonic(t *testing.T) {
	t.Parallel()
	r := Rule{Kind: KindEvery, Every: Delta{Hours: 1}}
	lastFired := utc(2024, time.March, 1, 0, 0)
	now := utc(2024, time.March, 1, 0, 30)

	var prev time.Time
	for i := 0; i < 5; i++ {
		nr, next, err := r.Next(lastFired, now, time.UTC)
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if !prev.IsZero() && nr.Last.Before(prev) {
			t.Fatalf("Last regressed: %v -> %v", prev, nr.Last)
		}
		prev = nr.Last
		r = nr
		lastFired = next
		now = next.Add(time.Minute)
	}
}

func TestInvalidRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rule Rule
	}{
		{name: "empty interval", rule: Rule{Kind: KindEvery}},
		{name: "negative interval", rule: Rule{Kind: KindEvery, Every: Delta{Days: -1}}},
		{name: "bad cron", rule: Rule{Kind: KindCron, Expr: "not a cron"}},
		{name: "bad rrule", rule: Rule{Kind: KindRRule, Expr: "FREQ=NOPE", Start: utc(2024, time.January, 1, 0, 0)}},
		{name: "rrule without start", rule: Rule{Kind: KindRRule, Expr: "FREQ=DAILY"}},
		{name: "unknown kind", rule: Rule{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rule.Validate(); !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("Validate = %v, want ErrInvalidRule", err)
			}
			now := utc(2024, time.January, 2, 0, 0)
			if _, _, err := tt.rule.Next(now.Add(-time.Hour), now, time.UTC); !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("Next = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestRuleJSONRoundTrip(t *testing.T) {
	t.Parallel()
	start := utc(2024, time.February, 1, 8, 0)
	rules := []Rule{
		{Kind: KindEvery, Every: Delta{Days: 1, Hours: 2}, First: start, Last: start.Add(26 * time.Hour)},
		{Kind: KindCron, Expr: "*/5 * * * *"},
		{Kind: KindRRule, Expr: "FREQ=WEEKLY;BYDAY=MO", Start: start},
	}
	for _, r := range rules {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got Rule
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Kind != r.Kind || got.Expr != r.Expr || got.Every != r.Every {
			t.Fatalf("round trip mismatch: %+v != %+v", got, r)
		}
		if !got.Start.Equal(r.Start) || !got.First.Equal(r.First) || !got.Last.Equal(r.Last) {
			t.Fatalf("timestamps mismatch: %+v != %+v", got, r)
		}
	}
}

func TestRuleJSONLegacySampleType(t *testing.T) {
	t.Parallel()
	var r Rule
	raw := `{"type":"sample","value":{"days":1},"last_trigger":1700000000}`
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal legacy rule: %v", err)
	}
	if r.Kind != KindEvery || r.Every.Days != 1 {
		t.Fatalf("legacy sample not mapped to every: %+v", r)
	}
	if r.Last.Unix() != 1700000000 {
		t.Fatalf("last trigger = %v", r.Last)
	}
}
