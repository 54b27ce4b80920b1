// Package interval holds the half-open [start,end) time range arithmetic shared
// by the calendar, the slot generator and the conflict validator.
package interval

import (
	"sort"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

func (iv Interval) Empty() bool {
	return !iv.End.After(iv.Start)
}

func (iv Interval) Duration() time.Duration {
	if iv.Empty() {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals share at least one instant.
// Touching intervals (a.End == b.Start) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) || !bEnd.After(bStart) {
		return false
	}
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func (iv Interval) Overlaps(other Interval) bool {
	return Overlaps(iv.Start, iv.End, other.Start, other.End)
}

// Contains reports whether in lies fully inside iv. Empty intervals are never contained.
func (iv Interval) Contains(in Interval) bool {
	if iv.Empty() || in.Empty() {
		return false
	}
	return !in.Start.Before(iv.Start) && !in.End.After(iv.End)
}

func OverlapsAny(iv Interval, others []Interval) bool {
	for _, o := range others {
		if iv.Overlaps(o) {
			return true
		}
	}
	return false
}

// Merge returns the union of the given intervals as a sorted list of disjoint
// intervals. Adjacent intervals are joined; empty ones are dropped.
func Merge(in []Interval) []Interval {
	b := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !iv.Empty() {
			b = append(b, iv)
		}
	}
	if len(b) == 0 {
		return nil
	}
	sort.Slice(b, func(i, j int) bool {
		if b[i].Start.Equal(b[j].Start) {
			return b[i].End.Before(b[j].End)
		}
		return b[i].Start.Before(b[j].Start)
	})

	merged := make([]Interval, 0, len(b))
	for _, cur := range b {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract removes every block from base and returns the remaining pieces in order.
func Subtract(base Interval, blocks []Interval) []Interval {
	if base.Empty() {
		return nil
	}
	var clipped []Interval
	for _, blk := range blocks {
		if !blk.Overlaps(base) {
			continue
		}
		s, e := blk.Start, blk.End
		if s.Before(base.Start) {
			s = base.Start
		}
		if e.After(base.End) {
			e = base.End
		}
		clipped = append(clipped, Interval{Start: s, End: e})
	}
	if len(clipped) == 0 {
		return []Interval{base}
	}

	var out []Interval
	cursor := base.Start
	for _, m := range Merge(clipped) {
		if m.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: m.Start})
		}
		if m.End.After(cursor) {
			cursor = m.End
		}
	}
	if base.End.After(cursor) {
		out = append(out, Interval{Start: cursor, End: base.End})
	}
	return out
}
