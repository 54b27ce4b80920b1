package availability

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/interval"
)

// ErrInvalidAvailabilityRecord marks a weekly record whose start is not before its end.
// Callers log it and treat the day as closed.
var ErrInvalidAvailabilityRecord = errors.New("invalid availability record")

const minutesPerDay = 24 * 60

// ClockTime is a wall-clock time of day in minutes since midnight. 1440 means end of day.
type ClockTime int

func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClock parses "HH:MM" (24h). "24:00" is accepted as end of day.
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 || !allDigits(hh) || !allDigits(mm) {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return Clock(h, m), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (c ClockTime) Valid() bool {
	return c >= 0 && c <= minutesPerDay
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On places the clock time on the given day (which must already be midnight).
func (c ClockTime) On(day time.Time) time.Time {
	return day.Add(time.Duration(c) * time.Minute)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// WeeklyAvailability is one enabled weekday of a staff member's recurring schedule.
type WeeklyAvailability struct {
	StaffID string       `json:"staff_id,omitempty"`
	Weekday time.Weekday `json:"weekday"`
	Start   ClockTime    `json:"start_time"`
	End     ClockTime    `json:"end_time"`
}

// BreakPeriod is removed from the working window of its weekday.
type BreakPeriod struct {
	Weekday time.Weekday `json:"weekday"`
	Start   ClockTime    `json:"start_time"`
	End     ClockTime    `json:"end_time"`
}

// Schedule is everything the calendar needs for one staff member.
type Schedule struct {
	StaffID string               `json:"staff_id"`
	Days    []WeeklyAvailability `json:"days"`
	Breaks  []BreakPeriod        `json:"breaks,omitempty"`
}

func (s Schedule) Day(wd time.Weekday) (WeeklyAvailability, bool) {
	for _, d := range s.Days {
		if d.Weekday == wd {
			return d, true
		}
	}
	return WeeklyAvailability{}, false
}

// Validate is used by the schedule editor before a draft is committed.
func (s Schedule) Validate() error {
	seen := make(map[time.Weekday]bool, len(s.Days))
	for _, d := range s.Days {
		if d.Weekday < time.Sunday || d.Weekday > time.Saturday {
			return fmt.Errorf("weekday %d out of range", int(d.Weekday))
		}
		if seen[d.Weekday] {
			return fmt.Errorf("duplicate availability for %s", d.Weekday)
		}
		seen[d.Weekday] = true
		if !d.Start.Valid() || !d.End.Valid() || d.Start >= d.End {
			return fmt.Errorf("%s: start_time must be before end_time", d.Weekday)
		}
	}
	for _, b := range s.Breaks {
		if b.Weekday < time.Sunday || b.Weekday > time.Saturday {
			return fmt.Errorf("break weekday %d out of range", int(b.Weekday))
		}
		if !b.Start.Valid() || !b.End.Valid() || b.Start >= b.End {
			return fmt.Errorf("%s break: start_time must be before end_time", b.Weekday)
		}
	}
	return nil
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WorkingWindows resolves the schedule into the bookable windows of date's calendar day.
// A closed day yields no windows and no error. A malformed record yields no windows
// and ErrInvalidAvailabilityRecord.
func WorkingWindows(date time.Time, sched Schedule) ([]interval.Interval, error) {
	rec, ok := sched.Day(date.Weekday())
	if !ok {
		return nil, nil
	}
	if !rec.Start.Valid() || !rec.End.Valid() || rec.Start >= rec.End {
		return nil, fmt.Errorf("%w: staff %s %s %s-%s", ErrInvalidAvailabilityRecord, sched.StaffID, rec.Weekday, rec.Start, rec.End)
	}

	day := Midnight(date)
	base := interval.Interval{Start: rec.Start.On(day), End: rec.End.On(day)}

	var blocks []interval.Interval
	for _, b := range sched.Breaks {
		if b.Weekday != rec.Weekday || b.Start >= b.End {
			continue
		}
		blocks = append(blocks, interval.Interval{Start: b.Start.On(day), End: b.End.On(day)})
	}
	return interval.Subtract(base, blocks), nil
}
