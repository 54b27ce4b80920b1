package availability

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const DefaultStep = 15 * time.Minute

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals. Starts before notBefore are
// skipped; a zero notBefore keeps them.
//
// All times are expected to be in the same location.
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []interval.Interval, notBefore time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if !notBefore.IsZero() && t.Before(notBefore) {
			continue
		}
		if !interval.OverlapsAny(interval.New(t, duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

type SlotQuery struct {
	Windows   []interval.Interval
	Busy      []interval.Interval
	Duration  time.Duration
	Step      time.Duration
	NotBefore time.Time
}

// Slots walks every working window and returns the offered start times in ascending order.
func Slots(q SlotQuery) []time.Time {
	var out []time.Time
	for _, w := range q.Windows {
		out = append(out, AvailableSlots(w.Start, w.End, q.Duration, q.Step, q.Busy, q.NotBefore)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	dedup := out[:0]
	for i, t := range out {
		if i > 0 && t.Equal(out[i-1]) {
			continue
		}
		dedup = append(dedup, t)
	}
	return dedup
}

// BusyIntervals converts appointments into blocking intervals. Cancelled ones are ignored.
func BusyIntervals(appts []model.Appointment) []interval.Interval {
	busy := make([]interval.Interval, 0, len(appts))
	for _, a := range appts {
		if !a.Blocks() || a.DurationMinutes <= 0 {
			continue
		}
		busy = append(busy, a.Interval())
	}
	return busy
}

func FormatSlots(slots []time.Time) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Format("15:04"))
	}
	return out
}

// ReconcileSelection keeps a previously selected "HH:MM" if it is still offered,
// otherwise falls back to the first offered slot, or "" when nothing is offered.
func ReconcileSelection(selected string, offered []string) string {
	for _, s := range offered {
		if s == selected {
			return selected
		}
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return ""
}
