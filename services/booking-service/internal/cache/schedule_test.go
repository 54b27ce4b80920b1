package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

type countingSource struct {
	schedules int
}

func (s *countingSource) GetStaff(_ context.Context, businessID, staffID string) (model.Staff, error) {
	return model.Staff{ID: staffID, BusinessID: businessID, IsActive: true}, nil
}

func (s *countingSource) GetSchedule(context.Context, string, string) (availability.Schedule, error) {
	s.schedules++
	return availability.Schedule{Days: []availability.WeeklyAvailability{
		{Weekday: time.Monday, Start: availability.Clock(9, 0), End: availability.Clock(17, 0)},
	}}, nil
}

func (s *countingSource) ListBlockingAppointments(context.Context, string, string, time.Time, time.Time) ([]model.Appointment, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKey(t *testing.T) {
	if got := Key("b1", "s1"); got != "apptbook:schedule:b1:s1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDisabledCacheReadsThrough(t *testing.T) {
	backing := &countingSource{}
	src := NewAdvisorySource(NewScheduleCache(nil, 0), backing, quietLogger())

	for i := 0; i < 2; i++ {
		sched, err := src.GetSchedule(context.Background(), "b1", "s1")
		if err != nil {
			t.Fatalf("GetSchedule: %v", err)
		}
		if sched.StaffID != "s1" || len(sched.Days) != 1 {
			t.Fatalf("unexpected schedule %+v", sched)
		}
	}
	if backing.schedules != 2 {
		t.Fatalf("expected every read to hit the backing source, got %d", backing.schedules)
	}
	if err := NewScheduleCache(nil, 0).Invalidate(context.Background(), "b1", "s1"); err != nil {
		t.Fatalf("invalidate on disabled cache: %v", err)
	}
}

func TestUnreachableRedisFallsBack(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	backing := &countingSource{}
	src := NewAdvisorySource(NewScheduleCache(rdb, time.Minute), backing, quietLogger())

	sched, err := src.GetSchedule(context.Background(), "b1", "s1")
	if err != nil {
		t.Fatalf("expected fallback to backing source, got %v", err)
	}
	if len(sched.Days) != 1 || backing.schedules != 1 {
		t.Fatalf("unexpected result %+v (backing reads %d)", sched, backing.schedules)
	}
}
