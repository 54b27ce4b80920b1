// Command slotcalc answers availability questions offline from a schedule JSON
// file, using the same slot and day rules as the booking service.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const dateLayout = "2006-01-02"

type runContext struct {
	Out    io.Writer
	Logger *slog.Logger
}

type cli struct {
	Slots slotsCmd `cmd:"" help:"List bookable start times for one day."`
	Days  daysCmd  `cmd:"" help:"List days that have working hours."`
}

type slotsCmd struct {
	Schedule string        `required:"" type:"existingfile" help:"Schedule JSON file (same shape as the schedule editor)."`
	Date     string        `required:"" help:"Day to inspect (YYYY-MM-DD)."`
	Duration time.Duration `required:"" help:"Appointment length, e.g. 30m."`
	Step     time.Duration `default:"15m" help:"Spacing between candidate start times."`
	Booked   []string      `help:"Existing bookings as HH:MM/minutes, e.g. 10:00/30."`
}

func (c *slotsCmd) Run(rc *runContext) error {
	sched, err := loadSchedule(c.Schedule)
	if err != nil {
		return err
	}
	day, err := time.ParseInLocation(dateLayout, c.Date, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid --date %q", c.Date)
	}
	booked, err := parseBooked(day, c.Booked)
	if err != nil {
		return err
	}

	windows, err := availability.WorkingWindows(day, sched)
	if err != nil {
		if !errors.Is(err, availability.ErrInvalidAvailabilityRecord) {
			return err
		}
		rc.Logger.Warn("invalid availability record; treating day as closed", "date", c.Date, "err", err)
	}
	slots := availability.FormatSlots(availability.Slots(availability.SlotQuery{
		Windows:  windows,
		Busy:     availability.BusyIntervals(booked),
		Duration: c.Duration,
		Step:     c.Step,
	}))
	if len(slots) == 0 {
		_, err := fmt.Fprintln(rc.Out, "no slots")
		return err
	}
	_, err = fmt.Fprintln(rc.Out, strings.Join(slots, " "))
	return err
}

type daysCmd struct {
	Schedule string `required:"" type:"existingfile" help:"Schedule JSON file."`
	From     string `required:"" help:"First day (YYYY-MM-DD)."`
	Days     int    `default:"30" help:"How many days to scan, at most 30."`
}

func (c *daysCmd) Run(rc *runContext) error {
	sched, err := loadSchedule(c.Schedule)
	if err != nil {
		return err
	}
	from, err := time.ParseInLocation(dateLayout, c.From, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid --from %q", c.From)
	}
	for _, d := range availability.AvailableDays(from, c.Days, sched, availability.DefaultMaxDays) {
		if _, err := fmt.Fprintf(rc.Out, "%s %s\n", d.Format(dateLayout), d.Weekday()); err != nil {
			return err
		}
	}
	return nil
}

func loadSchedule(path string) (availability.Schedule, error) {
	var sched availability.Schedule
	b, err := os.ReadFile(path)
	if err != nil {
		return sched, err
	}
	if err := json.Unmarshal(b, &sched); err != nil {
		return sched, fmt.Errorf("parse %s: %w", path, err)
	}
	return sched, nil
}

// parseBooked reads "HH:MM/minutes" entries as scheduled appointments on day.
func parseBooked(day time.Time, raw []string) ([]model.Appointment, error) {
	out := make([]model.Appointment, 0, len(raw))
	for _, entry := range raw {
		clock, mins, ok := strings.Cut(strings.TrimSpace(entry), "/")
		if !ok {
			return nil, fmt.Errorf("invalid --booked %q: want HH:MM/minutes", entry)
		}
		start, err := availability.ParseClock(clock)
		if err != nil {
			return nil, fmt.Errorf("invalid --booked %q: %w", entry, err)
		}
		n, err := strconv.Atoi(mins)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid --booked %q: minutes must be positive", entry)
		}
		out = append(out, model.Appointment{Start: start.On(day), DurationMinutes: n, Status: model.StatusScheduled})
	}
	return out, nil
}

func newParser(c *cli, out io.Writer) (*kong.Kong, error) {
	return kong.New(c,
		kong.Name("slotcalc"),
		kong.Description("Offline availability calculator for staff schedules."),
		kong.UsageOnError(),
		kong.Writers(out, out),
	)
}

func main() {
	var c cli
	parser, err := newParser(&c, os.Stdout)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	parser.FatalIfErrorf(ctx.Run(&runContext{Out: os.Stdout, Logger: logger}))
}
