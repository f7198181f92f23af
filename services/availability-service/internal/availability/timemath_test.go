package availability

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := map[string]int{
		"00:00": 0,
		"09:30": 570,
		"23:59": 1439,
	}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil {
			t.Fatalf("ParseClock(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseClock(%q) = %d, want %d", in, got, want)
		}
		if FormatClock(got) != in {
			t.Fatalf("FormatClock(%d) = %q, want %q", got, FormatClock(got), in)
		}
	}

	for _, bad := range []string{"", "9:00", "24:00", "12:60", "ab:cd", "12-00", "12:000"} {
		if _, err := ParseClock(bad); !errors.Is(err, ErrInvalidField) {
			t.Fatalf("ParseClock(%q) expected ErrInvalidField, got %v", bad, err)
		}
	}
}

func TestLocalToUTC_UTC(t *testing.T) {
	ref := time.Date(2025, 3, 17, 15, 4, 0, 0, time.UTC) // Monday
	got, err := LocalToUTC(time.Monday, "09:00", "UTC", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLocalToUTC_MovesForwardToWeekday(t *testing.T) {
	ref := time.Date(2025, 3, 17, 15, 4, 0, 0, time.UTC) // Monday
	got, err := LocalToUTC(time.Wednesday, "09:00", "UTC", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 19, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLocalToUTC_NewYorkOffset(t *testing.T) {
	ref := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC) // Monday, EST
	got, err := LocalToUTC(time.Monday, "09:00", "America/New_York", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLocalToUTC_SpringForwardGapStepsForward(t *testing.T) {
	// 2025-03-09 02:00-03:00 does not exist in New York.
	ref := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	got, err := LocalToUTC(time.Sunday, "02:30", "America/New_York", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC) // 03:00 EDT
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLocalToUTC_FallBackPicksEarlierInstant(t *testing.T) {
	// 2025-11-02 01:30 happens twice in New York.
	ref := time.Date(2025, 11, 2, 12, 0, 0, 0, time.UTC)
	got, err := LocalToUTC(time.Sunday, "01:30", "America/New_York", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC) // 01:30 EDT
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLocalToUTC_SkippedDayIsUnresolvable(t *testing.T) {
	// Samoa skipped 2011-12-30 entirely; stepping cannot find a valid time.
	ref := time.Date(2011, 12, 29, 22, 0, 0, 0, time.UTC) // Thu 12:00 local
	_, err := LocalToUTC(time.Friday, "10:00", "Pacific/Apia", ref)
	if !errors.Is(err, ErrUnresolvableLocalTime) {
		t.Fatalf("expected ErrUnresolvableLocalTime, got %v", err)
	}
}

func TestLocalToUTC_InvalidTimezone(t *testing.T) {
	ref := time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)
	for _, tz := range []string{"Mars/Olympus", "", "Local"} {
		if _, err := LocalToUTC(time.Monday, "09:00", tz, ref); !errors.Is(err, ErrInvalidTimezone) {
			t.Fatalf("timezone %q: expected ErrInvalidTimezone, got %v", tz, err)
		}
	}
}

func TestLocalToUTC_Deterministic(t *testing.T) {
	ref := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	a, errA := LocalToUTC(time.Tuesday, "18:45", "Asia/Kolkata", ref)
	b, errB := LocalToUTC(time.Tuesday, "18:45", "Asia/Kolkata", ref)
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v, %v", errA, errB)
	}
	if !a.Equal(b) {
		t.Fatalf("expected identical instants, got %s and %s", a, b)
	}
}
