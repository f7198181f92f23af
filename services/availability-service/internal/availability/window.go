package availability

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"
)

const DefaultTimezone = "UTC"

// WindowSpec is a recurring weekly window as supplied by a caller.
type WindowSpec struct {
	DaysOfWeek     []int           `json:"days_of_week"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time"`
	Timezone       string          `json:"timezone,omitempty"`
	DateExceptions map[string]bool `json:"date_exceptions,omitempty"`
	RecurrenceRule json.RawMessage `json:"recurrence_rule,omitempty"`
}

// Window is a normalized WindowSpec anchored to a reference day.
// EndInstantUTC is always after StartInstantUTC.
type Window struct {
	WindowSpec
	StartInstantUTC time.Time `json:"start_instant_utc"`
	EndInstantUTC   time.Time `json:"end_instant_utc"`
}

// AppliesOn reports whether the window recurs on weekday.
func (w Window) AppliesOn(weekday time.Weekday) bool {
	return slices.Contains(w.DaysOfWeek, int(weekday))
}

// CrossesMidnight reports whether the local span wraps past midnight.
func (w Window) CrossesMidnight() bool {
	return w.EndTime <= w.StartTime
}

// Identity is the day/time/zone key used to diff window sets; surrogate ids
// never take part in it.
func (w WindowSpec) Identity() string {
	days := slices.Clone(w.DaysOfWeek)
	slices.Sort(days)
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	tz := w.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	return strings.Join(parts, ",") + "|" + w.StartTime + "|" + w.EndTime + "|" + tz
}

// Status is the human readable availability state.
type Status string

const (
	StatusAvailable   Status = "Available"
	StatusClosedToday Status = "ClosedToday"
	StatusUnavailable Status = "Unavailable"
)

// Result is the outcome of one evaluation. Values are replaced, never mutated.
type Result struct {
	IsOpenNow       bool       `json:"is_open_now"`
	NextOpenInstant *time.Time `json:"next_open_instant"`
	Status          Status     `json:"status"`
	EvaluatedAt     time.Time  `json:"evaluated_at"`
}

// ConflictReport lists overlapping window pairs. Gaps is reserved and always empty.
type ConflictReport struct {
	Overlaps []string `json:"overlaps"`
	Gaps     []string `json:"gaps"`
}

func (r ConflictReport) HasConflicts() bool { return len(r.Overlaps) > 0 }
