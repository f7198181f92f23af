package availability

import (
	"fmt"
	"time"
)

// FormatInstant renders t in the caller's timezone. The caller zone is for
// display only and never feeds back into evaluation.
func FormatInstant(t time.Time, timezone string) (string, error) {
	if timezone == "" {
		return t.UTC().Format(time.RFC3339), nil
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format(time.RFC3339), nil
}

// Describe is a short human rendering such as "Mon 09:00-17:00 America/New_York".
func (w Window) Describe() string {
	days := ""
	for i, d := range w.DaysOfWeek {
		if i > 0 {
			days += ","
		}
		if d >= 0 && d <= 6 {
			days += time.Weekday(d).String()[:3]
		} else {
			days += fmt.Sprint(d)
		}
	}
	tz := w.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	return fmt.Sprintf("%s %s-%s %s", days, w.StartTime, w.EndTime, tz)
}
