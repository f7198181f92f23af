package availability

import (
	"slices"
	"time"
)

// ScanHorizonDays bounds the forward search for the next opening.
const ScanHorizonDays = 14

type evalWindow struct {
	loc        *time.Location
	days       [7]bool
	start      int
	end        int
	crosses    bool
	exceptions map[string]bool
}

type plan []evalWindow

// Evaluate answers whether the windows are open at the given instant, when
// they next open and the resulting status. It never fails: windows that
// cannot be interpreted are ignored and an empty set is Unavailable.
func Evaluate(windows []Window, at time.Time) Result {
	res := Result{EvaluatedAt: at.UTC()}
	p := newPlan(windows)
	if len(p) == 0 {
		res.Status = StatusUnavailable
		return res
	}

	res.IsOpenNow = p.isOpen(at)
	if next, ok := p.nextOpen(at); ok {
		next = next.UTC()
		res.NextOpenInstant = &next
	}
	res.Status = p.status(at, res.IsOpenNow)
	return res
}

// IsOpenAt is the boolean part of Evaluate.
func IsOpenAt(windows []Window, at time.Time) bool {
	return newPlan(windows).isOpen(at)
}

func newPlan(windows []Window) plan {
	p := make(plan, 0, len(windows))
	for _, w := range windows {
		tz := w.Timezone
		if tz == "" {
			tz = DefaultTimezone
		}
		loc, err := LoadLocation(tz)
		if err != nil {
			continue
		}
		start, err := ParseClock(w.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(w.EndTime)
		if err != nil {
			continue
		}
		ew := evalWindow{
			loc:        loc,
			start:      start,
			end:        end,
			crosses:    end <= start,
			exceptions: w.DateExceptions,
		}
		for _, d := range w.DaysOfWeek {
			if d >= 0 && d <= 6 {
				ew.days[d] = true
			}
		}
		p = append(p, ew)
	}
	return p
}

// override applies date exceptions for the local date of t. A full date key
// beats a month key; any force-closed entry beats any force-open entry.
func (p plan) override(t time.Time) (forcedOpen, forcedClosed bool) {
	for _, w := range p {
		if len(w.exceptions) == 0 {
			continue
		}
		lt := t.In(w.loc)
		v, ok := w.exceptions[lt.Format(exceptionDayLayout)]
		if !ok {
			v, ok = w.exceptions[lt.Format(exceptionMonthLayout)]
		}
		if !ok {
			continue
		}
		if v {
			forcedOpen = true
		} else {
			forcedClosed = true
		}
	}
	return forcedOpen, forcedClosed
}

func (p plan) isOpen(t time.Time) bool {
	forcedOpen, forcedClosed := p.override(t)
	if forcedClosed {
		return false
	}
	if forcedOpen {
		return true
	}
	for _, w := range p {
		if w.covers(t) {
			return true
		}
	}
	return false
}

// covers checks the occurrence starting on t's local date and the one started
// the day before, which matters for cross-midnight spans.
func (w evalWindow) covers(t time.Time) bool {
	lt := t.In(w.loc)
	y, m, d := lt.Date()
	for back := 0; back <= 1; back++ {
		start, end, ok := w.occurrence(y, m, d-back)
		if !ok {
			continue
		}
		if !t.Before(start) && t.Before(end) {
			return true
		}
	}
	return false
}

// occurrence returns the UTC span of the window occurrence starting on the
// local date y-m-d, if the window recurs on that weekday.
func (w evalWindow) occurrence(y int, m time.Month, d int) (time.Time, time.Time, bool) {
	if !w.days[weekdayOf(y, m, d)] {
		return time.Time{}, time.Time{}, false
	}
	start, err := wallClock(w.loc, y, m, d, w.start)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	endDay := d
	if w.crosses {
		endDay++
	}
	end, err := wallClock(w.loc, y, m, endDay, w.end)
	if err != nil || !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// nextOpen finds the first closed-to-open transition strictly after at.
// Openings can only happen at a window start or at a local midnight when
// date exceptions are in play, so only those instants are checked.
func (p plan) nextOpen(at time.Time) (time.Time, bool) {
	limit := at.Add(ScanHorizonDays * 24 * time.Hour)
	var candidates []time.Time
	for _, w := range p {
		lt := at.In(w.loc)
		y, m, d := lt.Date()
		for off := -1; off <= ScanHorizonDays; off++ {
			if start, _, ok := w.occurrence(y, m, d+off); ok {
				candidates = append(candidates, start)
			}
			if len(w.exceptions) > 0 {
				if midnight, err := wallClock(w.loc, y, m, d+off, 0); err == nil {
					candidates = append(candidates, midnight)
				}
			}
		}
	}
	slices.SortFunc(candidates, func(a, b time.Time) int { return a.Compare(b) })
	candidates = slices.CompactFunc(candidates, func(a, b time.Time) bool { return a.Equal(b) })

	for _, c := range candidates {
		if !c.After(at) || c.After(limit) {
			continue
		}
		if p.isOpen(c) && !p.isOpen(c.Add(-time.Nanosecond)) {
			return c, true
		}
	}
	return time.Time{}, false
}

// status is Unavailable for an empty set or when a window applies today but
// the instant falls outside it, ClosedToday when nothing applies today or the
// date is forced closed.
func (p plan) status(at time.Time, open bool) Status {
	if open {
		return StatusAvailable
	}
	if _, forcedClosed := p.override(at); forcedClosed {
		return StatusClosedToday
	}
	for _, w := range p {
		if w.days[at.In(w.loc).Weekday()] {
			return StatusUnavailable
		}
	}
	return StatusClosedToday
}

func weekdayOf(y int, m time.Month, d int) time.Weekday {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC).Weekday()
}
