package availability

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Normalize anchors spec to the local midnight of reference in the window's
// zone and derives the UTC bounds. One spec yields one canonical window that
// keeps its whole day set.
func Normalize(spec WindowSpec, reference time.Time) ([]Window, error) {
	if len(spec.DaysOfWeek) == 0 {
		return nil, missing("days_of_week")
	}
	for _, d := range spec.DaysOfWeek {
		if d < 0 || d > 6 {
			return nil, invalid("days_of_week", "day %d outside 0..6", d)
		}
	}
	if strings.TrimSpace(spec.StartTime) == "" {
		return nil, missing("start_time")
	}
	if strings.TrimSpace(spec.EndTime) == "" {
		return nil, missing("end_time")
	}
	if strings.TrimSpace(spec.Timezone) == "" {
		spec.Timezone = DefaultTimezone
	}

	loc, err := LoadLocation(spec.Timezone)
	if err != nil {
		return nil, &NormalizationError{Field: "timezone", Err: err}
	}
	refDay := reference.In(loc).Weekday()

	start, err := LocalToUTC(refDay, spec.StartTime, spec.Timezone, reference)
	if err != nil {
		return nil, &NormalizationError{Field: "start_time", Err: err}
	}
	end, err := LocalToUTC(refDay, spec.EndTime, spec.Timezone, reference)
	if err != nil {
		return nil, &NormalizationError{Field: "end_time", Err: err}
	}
	if !end.After(start) {
		ref := reference.In(loc)
		y, m, d := ref.Date()
		endMins, _ := ParseClock(spec.EndTime)
		end, err = wallClock(loc, y, m, d+1, endMins)
		if err != nil {
			return nil, &NormalizationError{Field: "end_time", Err: err}
		}
	}

	spec.DaysOfWeek = slices.Clone(spec.DaysOfWeek)
	slices.Sort(spec.DaysOfWeek)
	spec.DaysOfWeek = slices.Compact(spec.DaysOfWeek)
	if spec.DateExceptions != nil {
		spec.DateExceptions = maps.Clone(spec.DateExceptions)
	}

	return []Window{{
		WindowSpec:      spec,
		StartInstantUTC: start,
		EndInstantUTC:   end,
	}}, nil
}

// NormalizeAll normalizes a full window set, stopping at the first failure.
func NormalizeAll(specs []WindowSpec, reference time.Time) ([]Window, error) {
	out := make([]Window, 0, len(specs))
	for i, spec := range specs {
		ws, err := Normalize(spec, reference)
		if err != nil {
			return nil, fmt.Errorf("windows[%d]: %w", i, err)
		}
		out = append(out, ws...)
	}
	return out, nil
}
