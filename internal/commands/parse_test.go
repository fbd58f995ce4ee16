package commands

import (
	"reflect"
	"testing"
	"time"

	"remindbot/internal/recurrence"
)

func TestSplitArgs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a b  c", []string{"a", "b", "c"}},
		{`--cron "0 9 * * 1-5" rest`, []string{"--cron", "0 9 * * 1-5", "rest"}},
		{`say "hello world"`, []string{"say", "hello world"}},
	}
	for _, tc := range cases {
		if got := splitArgs(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitArgs(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestExtractFlags(t *testing.T) {
	t.Parallel()
	flags := map[string][]string{}
	rest := extractFlags([]string{"10m", "--every", "1d", "water", "--every", "1w", "plants"}, flags)
	if !reflect.DeepEqual(rest, []string{"10m", "water", "plants"}) {
		t.Fatalf("rest = %#v", rest)
	}
	if !reflect.DeepEqual(flags["every"], []string{"1d", "1w"}) {
		t.Fatalf("every = %#v", flags["every"])
	}
}

func TestParseDelta(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    recurrence.Delta
		wantErr bool
	}{
		{in: "30m", want: recurrence.Delta{Minutes: 30}},
		{in: "1d12h", want: recurrence.Delta{Days: 1, Hours: 12}},
		{in: "2 weeks", want: recurrence.Delta{Weeks: 2}},
		{in: "1y6mo", want: recurrence.Delta{Years: 1, Months: 6}},
		{in: "90s", want: recurrence.Delta{Seconds: 90}},
		{in: "1 day, 2 hours", want: recurrence.Delta{Days: 1, Hours: 2}},
		{in: "", wantErr: true},
		{in: "banana", wantErr: true},
		{in: "1d banana", wantErr: true},
		{in: "0m", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDelta(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseDelta(%q) = %+v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDelta(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseDelta(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseWhen(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	// 14:00 UTC = 16:00 in Berlin (summer).
	now := time.Date(2025, 7, 10, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   string
		want time.Time
	}{
		{"delta", "10m", now.Add(10 * time.Minute)},
		{"delta with in", "in 2h", now.Add(2 * time.Hour)},
		{"clock later today", "20:30", time.Date(2025, 7, 10, 20, 30, 0, 0, loc).UTC()},
		{"clock already past rolls over", "09:00", time.Date(2025, 7, 11, 9, 0, 0, 0, loc).UTC()},
		{"tomorrow default", "tomorrow", time.Date(2025, 7, 11, 9, 0, 0, 0, loc).UTC()},
		{"tomorrow with clock", "tomorrow 07:15", time.Date(2025, 7, 11, 7, 15, 0, 0, loc).UTC()},
		{"absolute", "2025-12-24 18:00", time.Date(2025, 12, 24, 18, 0, 0, 0, loc).UTC()},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseWhen(tc.in, now, loc)
			if err != nil {
				t.Fatalf("ParseWhen(%q): %v", tc.in, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("ParseWhen(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	for _, bad := range []string{"", "soon", "25:00", "tomorrow maybe"} {
		if _, err := ParseWhen(bad, now, loc); err == nil {
			t.Errorf("ParseWhen(%q) succeeded, want error", bad)
		}
	}
}

func TestBuildRules(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 7, 10, 14, 0, 0, 0, time.UTC)

	set, err := buildRules(map[string][]string{
		"every": {"1d"},
		"cron":  {"0 9 * * 1-5"},
	}, start)
	if err != nil {
		t.Fatalf("buildRules: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("len(set) = %d, want 2", len(set))
	}
	if set[0].Kind != recurrence.KindEvery || set[1].Kind != recurrence.KindCron {
		t.Fatalf("kinds = %v, %v", set[0].Kind, set[1].Kind)
	}

	if _, err := buildRules(map[string][]string{"cron": {"not cron"}}, start); err == nil {
		t.Fatal("invalid cron accepted")
	}
	if _, err := buildRules(map[string][]string{"rrule": {"FREQ=NOPE"}}, start); err == nil {
		t.Fatal("invalid rrule accepted")
	}

	set, err = buildRules(map[string][]string{}, start)
	if err != nil || set != nil {
		t.Fatalf("empty flags = (%v, %v), want (nil, nil)", set, err)
	}
}

func TestParseLeadingWhen(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 10, 14, 0, 0, 0, time.UTC)

	when, rest, err := parseLeadingWhen([]string{"tomorrow", "09:30", "buy", "milk"}, now, time.UTC)
	if err != nil {
		t.Fatalf("parseLeadingWhen: %v", err)
	}
	if want := time.Date(2025, 7, 11, 9, 30, 0, 0, time.UTC); !when.Equal(want) {
		t.Fatalf("when = %v, want %v", when, want)
	}
	if !reflect.DeepEqual(rest, []string{"buy", "milk"}) {
		t.Fatalf("rest = %#v", rest)
	}

	if _, _, err := parseLeadingWhen(nil, now, time.UTC); err == nil {
		t.Fatal("empty args accepted")
	}
}
