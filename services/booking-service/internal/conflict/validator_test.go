package conflict

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type fakeSource struct {
	staff     map[string]bool
	schedule  availability.Schedule
	appts     []model.Appointment
	failAppts error
	lastFrom  time.Time
	lastTo    time.Time
}

func (f *fakeSource) GetStaff(_ context.Context, _, staffID string) (model.Staff, error) {
	if !f.staff[staffID] {
		return model.Staff{}, fmt.Errorf("staff %s: %w", staffID, ErrNotFound)
	}
	return model.Staff{ID: staffID, IsActive: true}, nil
}

func (f *fakeSource) GetSchedule(context.Context, string, string) (availability.Schedule, error) {
	return f.schedule, nil
}

func (f *fakeSource) ListBlockingAppointments(_ context.Context, _, _ string, from, to time.Time) ([]model.Appointment, error) {
	f.lastFrom, f.lastTo = from, to
	if f.failAppts != nil {
		return nil, f.failAppts
	}
	return f.appts, nil
}

var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func hm(h, m int) time.Time {
	return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func newSource() *fakeSource {
	return &fakeSource{
		staff: map[string]bool{"s1": true},
		schedule: availability.Schedule{
			Days: []availability.WeeklyAvailability{
				{Weekday: time.Monday, Start: availability.Clock(9, 0), End: availability.Clock(17, 0)},
			},
			Breaks: []availability.BreakPeriod{
				{Weekday: time.Monday, Start: availability.Clock(12, 0), End: availability.Clock(13, 0)},
			},
		},
		appts: []model.Appointment{
			{ID: "a1", StaffID: "s1", Start: hm(10, 0), DurationMinutes: 30, Status: model.StatusScheduled},
			{ID: "a2", StaffID: "s1", Start: hm(15, 0), DurationMinutes: 60, Status: model.StatusCancelled},
		},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{name: "free slot", req: Request{StaffID: "s1", Start: hm(9, 0), Duration: 30 * time.Minute}},
		{name: "adjacent after", req: Request{StaffID: "s1", Start: hm(10, 30), Duration: 30 * time.Minute}},
		{name: "adjacent before", req: Request{StaffID: "s1", Start: hm(9, 30), Duration: 30 * time.Minute}},
		{name: "ends at close", req: Request{StaffID: "s1", Start: hm(16, 30), Duration: 30 * time.Minute}},
		{name: "cancelled ignored", req: Request{StaffID: "s1", Start: hm(15, 0), Duration: time.Hour}},
		{name: "overlap", req: Request{StaffID: "s1", Start: hm(10, 15), Duration: 30 * time.Minute}, wantErr: ErrBookingConflict},
		{name: "exclude self", req: Request{StaffID: "s1", Start: hm(10, 15), Duration: 30 * time.Minute, ExcludeAppointmentID: "a1"}},
		{name: "past close", req: Request{StaffID: "s1", Start: hm(16, 45), Duration: 30 * time.Minute}, wantErr: ErrOutsideAvailability},
		{name: "before open", req: Request{StaffID: "s1", Start: hm(8, 45), Duration: 30 * time.Minute}, wantErr: ErrOutsideAvailability},
		{name: "into break", req: Request{StaffID: "s1", Start: hm(11, 45), Duration: 30 * time.Minute}, wantErr: ErrOutsideAvailability},
		{name: "disabled day", req: Request{StaffID: "s1", Start: hm(24+10, 0), Duration: 30 * time.Minute}, wantErr: ErrOutsideAvailability},
		{name: "zero duration", req: Request{StaffID: "s1", Start: hm(9, 0)}, wantErr: ErrOutsideAvailability},
		{name: "unknown staff", req: Request{StaffID: "nobody", Start: hm(9, 0), Duration: 30 * time.Minute}, wantErr: ErrNotFound},
	}

	v := NewValidator(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := v.Validate(context.Background(), newSource(), tc.req)
			if err != nil {
				t.Fatalf("unexpected datastore error: %v", err)
			}
			if tc.wantErr == nil {
				if !res.Valid || res.AsError() != nil {
					t.Fatalf("expected valid, got %+v", res)
				}
				return
			}
			if res.Valid {
				t.Fatalf("expected %v, got valid", tc.wantErr)
			}
			if !errors.Is(res.AsError(), tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, res.Err)
			}
		})
	}
}

func TestValidate_QueriesWholeDay(t *testing.T) {
	src := newSource()
	if _, err := NewValidator(nil).Validate(context.Background(), src, Request{StaffID: "s1", Start: hm(9, 0), Duration: 30 * time.Minute}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !src.lastFrom.Equal(monday) || !src.lastTo.Equal(monday.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected query range %s..%s", src.lastFrom, src.lastTo)
	}
}

func TestValidate_DatastoreErrorIsReturned(t *testing.T) {
	src := newSource()
	boom := errors.New("connection reset")
	src.failAppts = boom

	_, err := NewValidator(nil).Validate(context.Background(), src, Request{StaffID: "s1", Start: hm(9, 0), Duration: 30 * time.Minute})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped datastore error, got %v", err)
	}
}

func TestValidate_InvalidRecordClosesDay(t *testing.T) {
	src := newSource()
	src.schedule.Days[0] = availability.WeeklyAvailability{Weekday: time.Monday, Start: availability.Clock(17, 0), End: availability.Clock(9, 0)}

	res, err := NewValidator(nil).Validate(context.Background(), src, Request{StaffID: "s1", Start: hm(10, 0), Duration: 30 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(res.AsError(), ErrOutsideAvailability) {
		t.Fatalf("expected OutsideAvailability, got %+v", res)
	}
}

func TestRejectedError(t *testing.T) {
	err := Result{Err: ErrBookingConflict, Reason: "slot no longer available"}.AsError()
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != "slot no longer available" {
		t.Fatalf("unexpected error %v", err)
	}
	if !errors.Is(fmt.Errorf("wrap: %w", err), ErrBookingConflict) {
		t.Fatal("expected wrapped RejectedError to match ErrBookingConflict")
	}
}
