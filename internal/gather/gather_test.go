package gather

import (
	"testing"
	"time"
)

func TestDateRangeWindows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := DateRange{Start: start, End: start.Add(24 * time.Hour)}

	windows := r.Windows(time.Hour, 10)
	if len(windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(windows))
	}
	if !windows[0].End.Equal(start.Add(9 * time.Hour)) {
		t.Errorf("first window ends at %v", windows[0].End)
	}
	if !windows[1].Start.Equal(start.Add(10 * time.Hour)) {
		t.Errorf("second window starts at %v", windows[1].Start)
	}
	if !windows[2].End.Equal(r.End) {
		t.Errorf("last window ends at %v, want %v", windows[2].End, r.End)
	}

	single := DateRange{Start: start, End: start}
	if got := single.Windows(time.Hour, 10); len(got) != 1 {
		t.Errorf("single-instant range gave %d windows", len(got))
	}
	empty := DateRange{Start: start, End: start.Add(-time.Hour)}
	if !empty.Empty() || empty.Windows(time.Hour, 10) != nil {
		t.Error("reversed range should be empty")
	}
}
