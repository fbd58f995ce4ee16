package recurrence

import (
	"testing"
	"time"
)

func TestSetPicksEarliestTrigger(t *testing.T) {
	t.Parallel()
	s := Set{
		{Kind: KindEvery, Every: Delta{Days: 2}},
		{Kind: KindEvery, Every: Delta{Hours: 6}},
		{Kind: KindCron, Expr: "0 0 * * *"},
	}
	lastFired := utc(2024, time.July, 1, 10, 0)
	now := lastFired.Add(time.Minute)

	ns, next, err := s.Next(lastFired, now, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := utc(2024, time.July, 1, 16, 0) // the 6h rule wins
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if len(ns) != len(s) {
		t.Fatalf("set size changed: %d", len(ns))
	}
	// Every member carries its own advanced bookkeeping.
	for i, r := range ns {
		if r.Last.IsZero() {
			t.Fatalf("rule %d bookkeeping not advanced", i)
		}
	}
}

func TestSetAllExhaustedYieldsZero(t *testing.T) {
	t.Parallel()
	start := utc(2024, time.January, 1, 9, 0)
	s := Set{
		{Kind: KindRRule, Expr: "FREQ=DAILY;COUNT=1", Start: start},
		{Kind: KindRRule, Expr: "FREQ=DAILY;COUNT=2", Start: start},
	}
	lastFired := utc(2024, time.January, 2, 9, 0)
	now := utc(2024, time.February, 1, 0, 0)

	_, next, err := s.Next(lastFired, now, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !next.IsZero() {
		t.Fatalf("expected exhausted set, got %v", next)
	}
}

func TestSetInvalidMemberFailsWhole(t *testing.T) {
	t.Parallel()
	s := Set{
		{Kind: KindEvery, Every: Delta{Days: 1}},
		{Kind: KindCron, Expr: "bogus"},
	}
	now := utc(2024, time.May, 1, 0, 0)
	if _, _, err := s.Next(now.Add(-time.Hour), now, time.UTC); err == nil {
		t.Fatal("expected error from invalid member")
	}
	if err := s.Validate(); err == nil {
		t.Fatal("Validate accepted invalid member")
	}
}

func TestSetEmpty(t *testing.T) {
	t.Parallel()
	var s Set
	_, next, err := s.Next(time.Now(), time.Now(), time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !next.IsZero() {
		t.Fatalf("empty set produced trigger %v", next)
	}
}
