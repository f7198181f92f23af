package availability

import (
	"cmp"
	"fmt"
	"slices"
)

type daySegment struct {
	window int
	start  int // minutes after local midnight
	end    int // may exceed a day for cross-midnight windows
	spill  bool
	label  string
}

// DetectConflicts groups windows by weekday and reports every pair of
// intersecting local spans. This is a superset of comparing only adjacent
// pairs in start order: 09:00-17:00 against 10:00-11:00 and 12:00-15:00
// yields two entries, not one. Whether a set has conflicts is the same
// either way. Touching spans (09:00-12:00, 12:00-15:00) do not overlap;
// identical spans do. Cross-midnight windows also occupy the start of the
// following weekday.
func DetectConflicts(windows []Window) ConflictReport {
	var byDay [7][]daySegment

	for i, w := range windows {
		start, err := ParseClock(w.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(w.EndTime)
		if err != nil {
			continue
		}
		label := w.StartTime + "-" + w.EndTime
		if end <= start {
			end += minutesPerDay
		}
		for _, d := range w.DaysOfWeek {
			if d < 0 || d > 6 {
				continue
			}
			byDay[d] = append(byDay[d], daySegment{window: i, start: start, end: end, label: label})
			if end > minutesPerDay {
				next := (d + 1) % 7
				byDay[next] = append(byDay[next], daySegment{
					window: i,
					start:  0,
					end:    end - minutesPerDay,
					spill:  true,
					label:  fmt.Sprintf("%s (from day %d)", label, d),
				})
			}
		}
	}

	report := ConflictReport{Overlaps: []string{}, Gaps: []string{}}
	for day, segs := range byDay {
		slices.SortStableFunc(segs, func(a, b daySegment) int {
			if c := cmp.Compare(a.start, b.start); c != 0 {
				return c
			}
			if c := cmp.Compare(a.end, b.end); c != 0 {
				return c
			}
			return cmp.Compare(a.label, b.label)
		})
		for i := range segs {
			for j := i + 1; j < len(segs); j++ {
				earlier, later := segs[i], segs[j]
				if later.start >= earlier.end {
					break
				}
				if earlier.window == later.window {
					continue
				}
				report.Overlaps = append(report.Overlaps,
					fmt.Sprintf("day %d: %s overlaps %s", day, earlier.label, later.label))
			}
		}
	}
	return report
}
