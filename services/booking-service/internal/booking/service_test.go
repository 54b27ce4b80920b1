package booking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking/bookingtest"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

const biz = "biz-1"

// monday is 2026-01-05, a Monday.
var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func at(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func newFixture(t *testing.T) (*booking.Service, *bookingtest.MemStore) {
	t.Helper()
	store := bookingtest.New()
	store.AddStaff(model.Staff{ID: "staff-1", BusinessID: biz, Name: "Ana"}, availability.Schedule{
		Days: []availability.WeeklyAvailability{
			{Weekday: time.Monday, Start: availability.Clock(9, 0), End: availability.Clock(17, 0)},
		},
		Breaks: []availability.BreakPeriod{
			{Weekday: time.Monday, Start: availability.Clock(12, 0), End: availability.Clock(13, 0)},
		},
	})
	store.AddService(model.Service{ID: "cut", BusinessID: biz, Name: "Haircut", DurationMinutes: 30})
	store.AddService(model.Service{ID: "color", BusinessID: biz, Name: "Color", DurationMinutes: 60})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := booking.NewService(store, conflict.NewValidator(logger), logger, booking.Config{})
	return svc, store
}

func createReq(serviceID string, start time.Time) booking.CreateRequest {
	return booking.CreateRequest{
		BusinessID: biz,
		StaffID:    "staff-1",
		CustomerID: "cust-1",
		ServiceID:  serviceID,
		Start:      start,
	}
}

func TestCreate_PersistsAndEmitsEvent(t *testing.T) {
	svc, store := newFixture(t)

	appt, err := svc.Create(context.Background(), createReq("cut", at(monday, 9, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if appt.ID == "" || appt.DurationMinutes != 30 || appt.Status != model.StatusScheduled {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if got := len(store.Appointments()); got != 1 {
		t.Fatalf("expected 1 stored appointment, got %d", got)
	}
	events := store.Events()
	if len(events) != 1 || events[0].EventType != outbox.EventAppointmentScheduled || events[0].AggregateID != appt.ID {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestCreate_AdjacentBookingIsAllowed(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, createReq("cut", at(monday, 9, 30))); err != nil {
		t.Fatalf("create 09:30: %v", err)
	}
	if _, err := svc.Create(ctx, createReq("cut", at(monday, 10, 0))); err != nil {
		t.Fatalf("expected 10:00 to fit right after 09:30-10:00: %v", err)
	}
	if _, err := svc.Create(ctx, createReq("cut", at(monday, 9, 0))); err != nil {
		t.Fatalf("expected 09:00 to fit right before 09:30: %v", err)
	}
}

func TestCreate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		req     booking.CreateRequest
		wantErr error
	}{
		{
			name:    "runs past closing",
			req:     createReq("cut", at(monday, 16, 45)),
			wantErr: conflict.ErrOutsideAvailability,
		},
		{
			name:    "crosses break",
			req:     createReq("color", at(monday, 11, 30)),
			wantErr: conflict.ErrOutsideAvailability,
		},
		{
			name:    "disabled weekday",
			req:     createReq("cut", at(monday.AddDate(0, 0, 1), 10, 0)),
			wantErr: conflict.ErrOutsideAvailability,
		},
		{
			name:    "overlaps existing",
			req:     createReq("color", at(monday, 9, 45)),
			wantErr: conflict.ErrBookingConflict,
		},
		{
			name: "unknown staff",
			req: booking.CreateRequest{
				BusinessID: biz, StaffID: "ghost", CustomerID: "c", ServiceID: "cut", Start: at(monday, 9, 0),
			},
			wantErr: conflict.ErrNotFound,
		},
		{
			name:    "unknown service",
			req:     createReq("massage", at(monday, 9, 0)),
			wantErr: conflict.ErrNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newFixture(t)
			store.Seed(model.Appointment{ID: "existing", BusinessID: biz, StaffID: "staff-1", Start: at(monday, 10, 0), DurationMinutes: 30})

			_, err := svc.Create(context.Background(), tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			var rejected *conflict.RejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("expected *conflict.RejectedError, got %T", err)
			}
			if got := len(store.Appointments()); got != 1 {
				t.Fatalf("rejected booking must not be stored, have %d appointments", got)
			}
		})
	}
}

func TestCreate_InvalidRequest(t *testing.T) {
	svc, _ := newFixture(t)
	_, err := svc.Create(context.Background(), booking.CreateRequest{BusinessID: biz, StaffID: "staff-1"})
	if !errors.Is(err, booking.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreate_IdempotencyKeyReturnsSameAppointment(t *testing.T) {
	svc, store := newFixture(t)
	req := createReq("cut", at(monday, 9, 0))
	req.IdempotencyKey = "key-1"

	first, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("replayed create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same appointment, got %s and %s", first.ID, second.ID)
	}
	if got := len(store.Appointments()); got != 1 {
		t.Fatalf("expected 1 appointment, got %d", got)
	}
}

func TestCreate_CancelledAppointmentDoesNotBlock(t *testing.T) {
	svc, store := newFixture(t)
	store.Seed(model.Appointment{ID: "old", BusinessID: biz, StaffID: "staff-1", Start: at(monday, 9, 0), DurationMinutes: 60, Status: model.StatusCancelled})

	if _, err := svc.Create(context.Background(), createReq("cut", at(monday, 9, 15))); err != nil {
		t.Fatalf("cancelled appointment should not block: %v", err)
	}
}

func TestCreate_UnassignedSkipsValidation(t *testing.T) {
	svc, _ := newFixture(t)
	req := createReq("cut", at(monday.AddDate(0, 0, 1), 3, 0))
	req.StaffID = ""
	if _, err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("unassigned appointment: %v", err)
	}
}

func TestCreate_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	svc, store := newFixture(t)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Create(context.Background(), createReq("cut", at(monday, 14, 0)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, conflict.ErrBookingConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if succeeded != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", n-1, succeeded, conflicts)
	}
	if got := len(store.Appointments()); got != 1 {
		t.Fatalf("expected exactly 1 stored appointment, got %d", got)
	}
}

func TestCreate_RetriesAbortedTransactions(t *testing.T) {
	svc, store := newFixture(t)

	store.AbortNext(2)
	if _, err := svc.Create(context.Background(), createReq("cut", at(monday, 9, 0))); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}

	store.AbortNext(3)
	_, err := svc.Create(context.Background(), createReq("cut", at(monday, 10, 0)))
	if !errors.Is(err, conflict.ErrBookingConflict) {
		t.Fatalf("expected BookingConflict after exhausting retries, got %v", err)
	}
	if got := len(store.Appointments()); got != 1 {
		t.Fatalf("expected only the first appointment, got %d", got)
	}
}

func TestCreate_RandomLoadNeverOverlaps(t *testing.T) {
	svc, store := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	services := []string{"cut", "color"}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		req := createReq(services[rng.Intn(len(services))], at(monday, 8+rng.Intn(10), 5*rng.Intn(12)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Create(context.Background(), req)
		}()
	}
	wg.Wait()

	appts := store.Appointments()
	if len(appts) == 0 {
		t.Fatal("expected some bookings to succeed")
	}
	windows, err := availability.WorkingWindows(monday, mustSchedule(t, store))
	if err != nil {
		t.Fatalf("WorkingWindows: %v", err)
	}
	for i, a := range appts {
		inside := false
		for _, w := range windows {
			if w.Contains(a.Interval()) {
				inside = true
				break
			}
		}
		if !inside {
			t.Fatalf("appointment %s at %s is outside working windows", a.ID, a.Start.Format("15:04"))
		}
		for _, b := range appts[i+1:] {
			if a.Interval().Overlaps(b.Interval()) {
				t.Fatalf("appointments overlap: %s %s and %s %s",
					a.Start.Format("15:04"), a.End().Format("15:04"), b.Start.Format("15:04"), b.End().Format("15:04"))
			}
		}
	}
}

func mustSchedule(t *testing.T, store *bookingtest.MemStore) availability.Schedule {
	t.Helper()
	sched, err := store.Source().GetSchedule(context.Background(), biz, "staff-1")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	return sched
}

func TestReschedule(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()
	appt, err := svc.Create(ctx, createReq("color", at(monday, 9, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	store.Seed(model.Appointment{ID: "other", BusinessID: biz, StaffID: "staff-1", Start: at(monday, 14, 0), DurationMinutes: 30})

	// Moving within its own current slot must not conflict with itself.
	moved, err := svc.Reschedule(ctx, booking.RescheduleRequest{BusinessID: biz, AppointmentID: appt.ID, Start: at(monday, 9, 30)})
	if err != nil {
		t.Fatalf("reschedule onto overlapping own slot: %v", err)
	}
	if !moved.Start.Equal(at(monday, 9, 30)) {
		t.Fatalf("unexpected start %s", moved.Start)
	}

	_, err = svc.Reschedule(ctx, booking.RescheduleRequest{BusinessID: biz, AppointmentID: appt.ID, Start: at(monday, 13, 45)})
	if !errors.Is(err, conflict.ErrBookingConflict) {
		t.Fatalf("expected conflict with other appointment, got %v", err)
	}

	events := store.Events()
	if last := events[len(events)-1]; last.EventType != outbox.EventAppointmentRescheduled {
		t.Fatalf("expected rescheduled event, got %s", last.EventType)
	}
}

func TestReschedule_CancelledIsRejected(t *testing.T) {
	svc, store := newFixture(t)
	store.Seed(model.Appointment{ID: "gone", BusinessID: biz, StaffID: "staff-1", Start: at(monday, 9, 0), DurationMinutes: 30, Status: model.StatusCancelled})

	_, err := svc.Reschedule(context.Background(), booking.RescheduleRequest{BusinessID: biz, AppointmentID: "gone", Start: at(monday, 10, 0)})
	if !errors.Is(err, booking.ErrNotReschedulable) {
		t.Fatalf("expected ErrNotReschedulable, got %v", err)
	}

	_, err = svc.Reschedule(context.Background(), booking.RescheduleRequest{BusinessID: biz, AppointmentID: "missing", Start: at(monday, 10, 0)})
	if !errors.Is(err, conflict.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel_FreesSlotAndIsIdempotent(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()
	appt, err := svc.Create(ctx, createReq("cut", at(monday, 9, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, biz, appt.ID, "customer request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled appointment %+v", cancelled)
	}
	if _, err := svc.Cancel(ctx, biz, appt.ID, ""); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if got := len(store.Events()); got != 2 {
		t.Fatalf("expected scheduled + cancelled events, got %d", got)
	}

	if _, err := svc.Create(ctx, createReq("cut", at(monday, 9, 0))); err != nil {
		t.Fatalf("slot should be free after cancel: %v", err)
	}
}

func TestCancel_CompletedIsRejected(t *testing.T) {
	svc, store := newFixture(t)
	store.Seed(model.Appointment{ID: "done", BusinessID: biz, StaffID: "staff-1", Start: at(monday, 9, 0), DurationMinutes: 30, Status: model.StatusCompleted})

	if _, err := svc.Cancel(context.Background(), biz, "done", ""); !errors.Is(err, booking.ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

// Every start time the slot listing offers must pass the write-path validator,
// and every grid point it withholds must fail it.
func TestOfferedSlotsAlwaysValidate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	durations := []int{15, 20, 30, 45, 60, 90}
	steps := []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute}
	validator := conflict.NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	for c := 0; c < 300; c++ {
		open := availability.Clock(6+rng.Intn(5), 5*rng.Intn(12))
		shut := open + availability.ClockTime(4*60+rng.Intn(8*60))
		sched := availability.Schedule{
			Days: []availability.WeeklyAvailability{{Weekday: time.Monday, Start: open, End: shut}},
		}
		if rng.Intn(3) > 0 {
			bs := open + availability.ClockTime(rng.Intn(int(shut-open)))
			be := min(bs+availability.ClockTime(5+rng.Intn(90)), shut)
			sched.Breaks = []availability.BreakPeriod{{Weekday: time.Monday, Start: bs, End: be}}
		}

		store := bookingtest.New()
		store.AddStaff(model.Staff{ID: "staff-1", BusinessID: biz, Name: "Ana"}, sched)
		for i, n := 0, rng.Intn(6); i < n; i++ {
			status := model.StatusScheduled
			if rng.Intn(4) == 0 {
				status = model.StatusCancelled
			}
			store.Seed(model.Appointment{
				ID:              fmt.Sprintf("seed-%d", i),
				BusinessID:      biz,
				StaffID:         "staff-1",
				Start:           at(monday, 5+rng.Intn(14), 5*rng.Intn(12)),
				DurationMinutes: durations[rng.Intn(len(durations))],
				Status:          status,
			})
		}

		duration := time.Duration(durations[rng.Intn(len(durations))]) * time.Minute
		step := steps[rng.Intn(len(steps))]
		src := store.Source()
		windows, err := availability.WorkingWindows(monday, sched)
		if err != nil {
			t.Fatalf("case %d: WorkingWindows: %v", c, err)
		}
		blocking, err := src.ListBlockingAppointments(ctx, biz, "staff-1", monday, monday.AddDate(0, 0, 1))
		if err != nil {
			t.Fatalf("case %d: ListBlockingAppointments: %v", c, err)
		}
		offered := map[time.Time]bool{}
		for _, s := range availability.Slots(availability.SlotQuery{
			Windows:  windows,
			Busy:     availability.BusyIntervals(blocking),
			Duration: duration,
			Step:     step,
		}) {
			offered[s] = true
		}

		for _, w := range windows {
			for start := w.Start; start.Before(w.End); start = start.Add(step) {
				res, err := validator.Validate(ctx, src, conflict.Request{
					BusinessID: biz,
					StaffID:    "staff-1",
					Start:      start,
					Duration:   duration,
				})
				if err != nil {
					t.Fatalf("case %d: Validate: %v", c, err)
				}
				if res.Valid != offered[start] {
					t.Fatalf("case %d: %s for %s offered=%t but valid=%t (%s)",
						c, start.Format("15:04"), duration, offered[start], res.Valid, res.Reason)
				}
			}
		}
	}
}

// recordingStore notes the order of transactional calls made against a MemStore.
type recordingStore struct {
	inner *bookingtest.MemStore
	calls []string
}

func (r *recordingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return r.inner.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return fn(ctx, &recordingTx{Tx: tx, calls: &r.calls})
	})
}

type recordingTx struct {
	booking.Tx
	calls *[]string
}

func (r *recordingTx) LockStaff(ctx context.Context, businessID, staffID string) error {
	*r.calls = append(*r.calls, "LockStaff")
	return r.Tx.LockStaff(ctx, businessID, staffID)
}

func (r *recordingTx) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	*r.calls = append(*r.calls, "GetService")
	return r.Tx.GetService(ctx, businessID, serviceID)
}

func (r *recordingTx) GetAppointmentForUpdate(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	*r.calls = append(*r.calls, "GetAppointmentForUpdate")
	return r.Tx.GetAppointmentForUpdate(ctx, businessID, appointmentID)
}

func (r *recordingTx) LockIdempotencyKey(ctx context.Context, businessID, key string) (string, error) {
	*r.calls = append(*r.calls, "LockIdempotencyKey")
	return r.Tx.LockIdempotencyKey(ctx, businessID, key)
}

func TestStaffLockPrecedesReads(t *testing.T) {
	_, store := newFixture(t)
	rec := &recordingStore{inner: store}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := booking.NewService(rec, conflict.NewValidator(logger), logger, booking.Config{})
	ctx := context.Background()

	req := createReq("cut", at(monday, 9, 0))
	req.IdempotencyKey = "k1"
	appt, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(rec.calls) == 0 || rec.calls[0] != "LockStaff" {
		t.Fatalf("create must lock the staff member first, got %v", rec.calls)
	}

	rec.calls = nil
	if _, err := svc.Reschedule(ctx, booking.RescheduleRequest{BusinessID: biz, AppointmentID: appt.ID, StaffID: "staff-1", Start: at(monday, 10, 0)}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(rec.calls) == 0 || rec.calls[0] != "LockStaff" {
		t.Fatalf("reschedule to a named staff member must lock first, got %v", rec.calls)
	}
}
