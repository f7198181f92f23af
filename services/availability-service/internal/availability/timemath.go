package availability

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// A local time inside a spring-forward gap is pushed forward in fixed steps.
	// This approximates the real offset change and is knowingly imprecise for
	// zones whose gaps are not a multiple of the step.
	dstGapStep        = 30 * time.Minute
	dstGapMaxAttempts = 4

	minutesPerDay = 24 * 60
)

var locations sync.Map // string -> *time.Location

// LoadLocation resolves an IANA zone name. Empty and "Local" are rejected so
// results never depend on the host configuration.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	locations.Store(name, loc)
	return loc, nil
}

// ParseClock parses a fixed-width 24h "HH:MM" clock into minutes after midnight.
func ParseClock(hhmm string) (int, error) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, fmt.Errorf("%w: clock %q must be HH:MM", ErrInvalidField, hhmm)
	}
	digits := [4]byte{hhmm[0], hhmm[1], hhmm[3], hhmm[4]}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: clock %q must be HH:MM", ErrInvalidField, hhmm)
		}
	}
	h := int(digits[0]-'0')*10 + int(digits[1]-'0')
	m := int(digits[2]-'0')*10 + int(digits[3]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q out of range", ErrInvalidField, hhmm)
	}
	return h*60 + m, nil
}

// FormatClock is the inverse of ParseClock for minutes in [0, 1440).
func FormatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// LocalToUTC returns the instant at which the wall clock in timezone reads
// hhmm on the first day on or after reference (in that zone) that falls on
// weekday.
func LocalToUTC(weekday time.Weekday, hhmm, timezone string, reference time.Time) (time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	mins, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	ref := reference.In(loc)
	shift := (int(weekday) - int(ref.Weekday()) + 7) % 7
	y, m, d := ref.Date()
	return wallClock(loc, y, m, d+shift, mins)
}

// wallClock resolves minutes after local midnight of y-m-d in loc to a UTC
// instant. Gaps step forward; ambiguous times resolve to the earlier instant.
func wallClock(loc *time.Location, y int, m time.Month, d int, minutes int) (time.Time, error) {
	for attempt := 0; attempt <= dstGapMaxAttempts; attempt++ {
		want := minutes + attempt*int(dstGapStep/time.Minute)
		wall := time.Date(y, m, d, 0, want, 0, 0, time.UTC)
		t := time.Date(y, m, d, 0, want, 0, 0, loc)
		if !sameWallClock(t.In(loc), wall) {
			continue
		}
		for _, back := range []time.Duration{time.Hour, 30 * time.Minute} {
			if earlier := t.Add(-back); sameWallClock(earlier.In(loc), wall) {
				t = earlier
				break
			}
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %s in %s",
		ErrUnresolvableLocalTime, y, m, d, FormatClock(minutes), loc)
}

func sameWallClock(t, wall time.Time) bool {
	ty, tm, td := t.Date()
	wy, wm, wd := wall.Date()
	return ty == wy && tm == wm && td == wd && t.Hour() == wall.Hour() && t.Minute() == wall.Minute()
}
