package availability

import (
	"sort"
	"time"
)

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// AvailableSlots returns start times t = windowStart + k*step with t+duration <= windowEnd,
// t >= now, and [t, t+duration) clear of every busy interval.
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) || windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	idx := NewBusyIndex(busy)
	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !idx.Overlaps(t, t.Add(duration)) {
			slots = append(slots, t)
		}
	}
	return slots
}

// BusyIndex answers overlap queries in O(log n) over a sorted, merged set of intervals.
type BusyIndex struct {
	merged []Interval
}

func NewBusyIndex(busy []Interval) BusyIndex {
	sorted := make([]Interval, 0, len(busy))
	for _, b := range busy {
		if b.End.After(b.Start) {
			sorted = append(sorted, b)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var merged []Interval
	for _, b := range sorted {
		if n := len(merged); n > 0 && !b.Start.After(merged[n-1].End) {
			if b.End.After(merged[n-1].End) {
				merged[n-1].End = b.End
			}
			continue
		}
		merged = append(merged, b)
	}
	return BusyIndex{merged: merged}
}

// Overlaps reports whether [start, end) intersects any busy interval.
func (x BusyIndex) Overlaps(start, end time.Time) bool {
	// First merged interval ending after start; it is the only candidate since
	// merged intervals are disjoint and ordered.
	i := sort.Search(len(x.merged), func(i int) bool { return x.merged[i].End.After(start) })
	return i < len(x.merged) && x.merged[i].Start.Before(end)
}

func (x BusyIndex) Len() int { return len(x.merged) }
