package availability

import (
	"strings"
	"testing"
)

func win(days []int, start, end string) Window {
	return Window{WindowSpec: WindowSpec{DaysOfWeek: days, StartTime: start, EndTime: end, Timezone: "UTC"}}
}

func TestDetectConflicts_SingleOverlap(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{1}, "09:00", "12:00"),
		win([]int{1}, "11:00", "13:00"),
	})
	if len(report.Overlaps) != 1 {
		t.Fatalf("expected 1 overlap, got %v", report.Overlaps)
	}
	got := report.Overlaps[0]
	for _, part := range []string{"day 1", "09:00-12:00", "11:00-13:00"} {
		if !strings.Contains(got, part) {
			t.Fatalf("expected %q in %q", part, got)
		}
	}
}

func TestDetectConflicts_OrderIndependent(t *testing.T) {
	a := win([]int{2}, "10:00", "14:00")
	b := win([]int{2}, "13:00", "15:00")

	ab := DetectConflicts([]Window{a, b})
	ba := DetectConflicts([]Window{b, a})
	if len(ab.Overlaps) != len(ba.Overlaps) {
		t.Fatalf("expected symmetric result, got %v and %v", ab.Overlaps, ba.Overlaps)
	}
	if len(ab.Overlaps) != 1 || ab.Overlaps[0] != ba.Overlaps[0] {
		t.Fatalf("expected identical single overlap, got %v and %v", ab.Overlaps, ba.Overlaps)
	}
}

func TestDetectConflicts_AdjacentWindowsDoNotOverlap(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{1}, "09:00", "12:00"),
		win([]int{1}, "12:00", "15:00"),
	})
	if len(report.Overlaps) != 0 {
		t.Fatalf("expected no overlaps, got %v", report.Overlaps)
	}
}

func TestDetectConflicts_DuplicatesOverlap(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{3}, "09:00", "12:00"),
		win([]int{3}, "09:00", "12:00"),
	})
	if len(report.Overlaps) != 1 {
		t.Fatalf("expected duplicate windows to overlap once, got %v", report.Overlaps)
	}
}

func TestDetectConflicts_DifferentDays(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{1}, "09:00", "17:00"),
		win([]int{2}, "09:00", "17:00"),
	})
	if len(report.Overlaps) != 0 {
		t.Fatalf("expected no overlaps, got %v", report.Overlaps)
	}
}

func TestDetectConflicts_NonAdjacentPair(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{4}, "08:00", "18:00"),
		win([]int{4}, "09:00", "10:00"),
		win([]int{4}, "12:00", "13:00"),
	})
	if len(report.Overlaps) != 2 {
		t.Fatalf("expected both inner windows to overlap the long one, got %v", report.Overlaps)
	}
}

func TestDetectConflicts_CrossMidnightSpillsIntoNextDay(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{1}, "22:00", "02:00"),
		win([]int{2}, "01:00", "03:00"),
	})
	if len(report.Overlaps) != 1 {
		t.Fatalf("expected 1 overlap, got %v", report.Overlaps)
	}
	if !strings.HasPrefix(report.Overlaps[0], "day 2:") {
		t.Fatalf("expected overlap on day 2, got %q", report.Overlaps[0])
	}
}

func TestDetectConflicts_CrossMidnightSameDay(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{5}, "22:00", "02:00"),
		win([]int{5}, "23:00", "23:30"),
	})
	if len(report.Overlaps) != 1 {
		t.Fatalf("expected 1 overlap, got %v", report.Overlaps)
	}
}

func TestDetectConflicts_GapsAlwaysEmpty(t *testing.T) {
	report := DetectConflicts([]Window{
		win([]int{1}, "09:00", "10:00"),
		win([]int{1}, "15:00", "16:00"),
	})
	if report.Gaps == nil || len(report.Gaps) != 0 {
		t.Fatalf("expected empty non-nil gaps, got %#v", report.Gaps)
	}
	if report.HasConflicts() {
		t.Fatalf("expected no conflicts")
	}
}
