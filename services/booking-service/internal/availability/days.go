package availability

import "time"

// DefaultMaxDays bounds how far ahead AvailableDays will look.
const DefaultMaxDays = 30

// AvailableDays returns the midnights in [from, from+days) on which the schedule has at
// least one working window. Existing bookings are not considered, so a fully booked day
// is still reported. days is clamped to maxDays (DefaultMaxDays when maxDays <= 0).
func AvailableDays(from time.Time, days int, sched Schedule, maxDays int) []time.Time {
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	if days > maxDays {
		days = maxDays
	}
	if days <= 0 {
		return nil
	}

	start := Midnight(from)
	var out []time.Time
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		windows, err := WorkingWindows(day, sched)
		if err != nil || len(windows) == 0 {
			continue
		}
		out = append(out, day)
	}
	return out
}
