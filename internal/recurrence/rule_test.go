package recurrence

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %q: %v", name, err)
	}
	return loc
}

func TestValidateRejectsMissingTimezone(t *testing.T) {
	r := Rule{Freq: Daily}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for missing timezone")
	}
}

func TestValidateRejectsBadFrequency(t *testing.T) {
	r := Rule{Freq: "fortnightly", Timezone: "UTC"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for invalid frequency")
	}
}

func TestNextAfterDaily(t *testing.T) {
	loc := mustLoc(t, "UTC")
	r := Rule{Freq: Daily, ByHour: []int{9}, ByMinute: []int{0}, Timezone: "UTC"}
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, loc)

	next, ok := r.NextAfter(start, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want := time.Date(2026, 1, 1, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}

	// After 9am, the next fire is the following day.
	after9 := time.Date(2026, 1, 1, 9, 0, 0, 0, loc)
	next2, ok := r.NextAfter(after9, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want2 := time.Date(2026, 1, 2, 9, 0, 0, 0, loc)
	if !next2.Equal(want2) {
		t.Errorf("got %v, want %v", next2, want2)
	}
}

func TestNextAfterStrictlyGreater(t *testing.T) {
	loc := mustLoc(t, "UTC")
	r := Rule{Freq: Daily, ByHour: []int{9}, Timezone: "UTC"}
	fireTime := time.Date(2026, 3, 5, 9, 0, 0, 0, loc)

	next, ok := r.NextAfter(fireTime, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	if !next.After(fireTime) {
		t.Errorf("next fire %v is not strictly after %v", next, fireTime)
	}
}

func TestNextAfterWeeklyByDay(t *testing.T) {
	loc := mustLoc(t, "UTC")
	// Every Monday and Thursday at 7:30.
	r := Rule{
		Freq:     Weekly,
		ByDay:    []time.Weekday{time.Monday, time.Thursday},
		ByHour:   []int{7},
		ByMinute: []int{30},
		Timezone: "UTC",
	}
	// 2026-01-01 is a Thursday.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)

	next, ok := r.NextAfter(start, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want := time.Date(2026, 1, 1, 7, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}

	next2, ok := r.NextAfter(next, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want2 := time.Date(2026, 1, 5, 7, 30, 0, 0, loc) // following Monday
	if !next2.Equal(want2) {
		t.Errorf("got %v, want %v", next2, want2)
	}
}

func TestNextAfterCountExhausted(t *testing.T) {
	loc := mustLoc(t, "UTC")
	r := Rule{Freq: Daily, ByHour: []int{9}, Timezone: "UTC", Count: 3}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)

	if _, ok := r.NextAfter(start, 3); ok {
		t.Fatal("expected no next fire time once count is exhausted")
	}
	if _, ok := r.NextAfter(start, 2); !ok {
		t.Fatal("expected a next fire time when count is not yet exhausted")
	}
}

func TestNextAfterUntil(t *testing.T) {
	loc := mustLoc(t, "UTC")
	until := time.Date(2026, 1, 2, 0, 0, 0, 0, loc)
	r := Rule{Freq: Daily, ByHour: []int{9}, Timezone: "UTC", Until: &until}
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, loc)

	if _, ok := r.NextAfter(start, 0); ok {
		t.Fatal("expected no next fire time past the until bound")
	}
}

func TestNextAfterHourlyInterval(t *testing.T) {
	loc := mustLoc(t, "UTC")
	r := Rule{Freq: Hourly, Interval: 2, ByMinute: []int{15}, Timezone: "UTC"}
	start := time.Date(2026, 1, 1, 10, 20, 0, 0, loc)

	next, ok := r.NextAfter(start, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want := time.Date(2026, 1, 1, 12, 15, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	r, err := Parse("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,TH;BYHOUR=7;BYMINUTE=30;COUNT=10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Freq != Weekly || r.Interval != 2 || r.Count != 10 {
		t.Fatalf("unexpected parse result: %+v", r)
	}
	if len(r.ByDay) != 2 || len(r.ByHour) != 1 || r.ByHour[0] != 7 {
		t.Fatalf("unexpected parse result: %+v", r)
	}

	encoded := r.String()
	r2, err := Parse(encoded)
	if err != nil {
		t.Fatalf("reparse %q: %v", encoded, err)
	}
	if r2.Freq != r.Freq || r2.Interval != r.Interval || r2.Count != r.Count {
		t.Errorf("round trip mismatch: got %+v, want %+v", r2, r)
	}
}

func TestParseRejectsUnknownFreq(t *testing.T) {
	if _, err := Parse("FREQ=FORTNIGHTLY"); err == nil {
		t.Fatal("expected error for unsupported FREQ")
	}
}

func TestParseUntil(t *testing.T) {
	r, err := Parse("FREQ=DAILY;UNTIL=20260601T000000Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Until == nil {
		t.Fatal("expected Until to be set")
	}
	want := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if !r.Until.Equal(want) {
		t.Errorf("got %v, want %v", r.Until, want)
	}
}

func TestNextAfterMonthly(t *testing.T) {
	loc := mustLoc(t, "UTC")
	r := Rule{Freq: Monthly, ByHour: []int{12}, Timezone: "UTC"}
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, loc)

	next, ok := r.NextAfter(start, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want := time.Date(2026, 1, 15, 12, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}

	next2, ok := r.NextAfter(next, 0)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want2 := time.Date(2026, 2, 15, 12, 0, 0, 0, loc)
	if !next2.Equal(want2) {
		t.Errorf("got %v, want %v", next2, want2)
	}
}
