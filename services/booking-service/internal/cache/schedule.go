// Package cache keeps staff schedules in Redis for slot browsing. It is advisory:
// bookings always re-validate inside a database transaction.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// ScheduleCache is safe to use with a nil client; every lookup is then a miss.
type ScheduleCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewScheduleCache(rdb redis.Cmdable, ttl time.Duration) *ScheduleCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ScheduleCache{rdb: rdb, ttl: ttl}
}

func (c *ScheduleCache) Enabled() bool {
	return c != nil && c.rdb != nil
}

func Key(businessID, staffID string) string {
	return "apptbook:schedule:" + businessID + ":" + staffID
}

// Get returns ok=false on a miss.
func (c *ScheduleCache) Get(ctx context.Context, businessID, staffID string) (availability.Schedule, bool, error) {
	if !c.Enabled() {
		return availability.Schedule{}, false, nil
	}
	raw, err := c.rdb.Get(ctx, Key(businessID, staffID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return availability.Schedule{}, false, nil
	}
	if err != nil {
		return availability.Schedule{}, false, err
	}
	var sched availability.Schedule
	if err := json.Unmarshal(raw, &sched); err != nil {
		return availability.Schedule{}, false, err
	}
	return sched, true, nil
}

func (c *ScheduleCache) Set(ctx context.Context, businessID string, sched availability.Schedule) error {
	if !c.Enabled() {
		return nil
	}
	raw, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, Key(businessID, sched.StaffID), raw, c.ttl).Err()
}

func (c *ScheduleCache) Invalidate(ctx context.Context, businessID, staffID string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Del(ctx, Key(businessID, staffID)).Err()
}

// AdvisorySource serves schedules read-through from the cache and everything else
// from the backing source. Redis errors fall back to the backing source.
type AdvisorySource struct {
	cache   *ScheduleCache
	backing conflict.Source
	logger  *slog.Logger
}

func NewAdvisorySource(c *ScheduleCache, backing conflict.Source, logger *slog.Logger) *AdvisorySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisorySource{cache: c, backing: backing, logger: logger}
}

func (s *AdvisorySource) GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error) {
	return s.backing.GetStaff(ctx, businessID, staffID)
}

func (s *AdvisorySource) ListBlockingAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return s.backing.ListBlockingAppointments(ctx, businessID, staffID, from, to)
}

func (s *AdvisorySource) GetSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error) {
	sched, ok, err := s.cache.Get(ctx, businessID, staffID)
	if err != nil {
		s.logger.Warn("schedule cache read failed", "staff_id", staffID, "err", err)
	}
	if ok {
		return sched, nil
	}

	sched, err = s.backing.GetSchedule(ctx, businessID, staffID)
	if err != nil {
		return availability.Schedule{}, err
	}
	sched.StaffID = staffID
	if err := s.cache.Set(ctx, businessID, sched); err != nil {
		s.logger.Warn("schedule cache write failed", "staff_id", staffID, "err", err)
	}
	return sched, nil
}
