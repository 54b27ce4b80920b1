package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// ScheduleRepository owns staff, services and weekly schedules, and serves the
// non-transactional reads used for slot browsing.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error) {
	return getStaff(ctx, r.pool, businessID, staffID)
}

func (r *ScheduleRepository) GetSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error) {
	return getSchedule(ctx, r.pool, businessID, staffID)
}

func (r *ScheduleRepository) ListBlockingAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return listBlockingAppointments(ctx, r.pool, businessID, staffID, from, to)
}

func (r *ScheduleRepository) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	return getService(ctx, r.pool, businessID, serviceID)
}

// ListAppointments returns every appointment of the staff member touching [from, to), cancelled included.
func (r *ScheduleRepository) ListAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND staff_id = $2
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, businessID, staffID, naive(from), naive(to))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *ScheduleRepository) CreateStaff(ctx context.Context, st model.Staff) (model.Staff, error) {
	if strings.TrimSpace(st.ID) == "" {
		st.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO staff (id, business_id, name, is_active)
		VALUES ($1, $2, $3, true)
		RETURNING is_active, created_at
	`, st.ID, st.BusinessID, st.Name).Scan(&st.IsActive, &st.CreatedAt)
	if err != nil {
		return model.Staff{}, alreadyExists("staff", st.ID, err)
	}
	return st, nil
}

func (r *ScheduleRepository) ListStaff(ctx context.Context, businessID string) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, name, is_active, created_at
		FROM staff
		WHERE business_id = $1
		ORDER BY name ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var st model.Staff
		if err := rows.Scan(&st.ID, &st.BusinessID, &st.Name, &st.IsActive, &st.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) CreateService(ctx context.Context, svc model.Service) (model.Service, error) {
	if strings.TrimSpace(svc.ID) == "" {
		svc.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (id, business_id, name, duration_minutes)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, svc.ID, svc.BusinessID, svc.Name, svc.DurationMinutes).Scan(&svc.CreatedAt)
	if err != nil {
		return model.Service{}, alreadyExists("service", svc.ID, err)
	}
	return svc, nil
}

func (r *ScheduleRepository) ListServices(ctx context.Context, businessID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, name, duration_minutes, created_at
		FROM services
		WHERE business_id = $1
		ORDER BY name ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ReplaceSchedule commits an edited week atomically. The staff row lock keeps a
// concurrent booking from validating against a half-written week.
func (r *ScheduleRepository) ReplaceSchedule(ctx context.Context, businessID string, sched availability.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			SELECT id FROM staff WHERE business_id = $1 AND id = $2 FOR UPDATE
		`, businessID, sched.StaffID).Scan(&id)
		if err != nil {
			return notFound("staff", sched.StaffID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM staff_weekly_availability WHERE staff_id = $1`, sched.StaffID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM staff_breaks WHERE staff_id = $1`, sched.StaffID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, d := range sched.Days {
			batch.Queue(`
				INSERT INTO staff_weekly_availability (staff_id, weekday, start_time, end_time)
				VALUES ($1, $2, $3, $4)
			`, sched.StaffID, int16(d.Weekday), clockToPG(d.Start), clockToPG(d.End))
		}
		for _, b := range sched.Breaks {
			batch.Queue(`
				INSERT INTO staff_breaks (staff_id, weekday, start_time, end_time)
				VALUES ($1, $2, $3, $4)
			`, sched.StaffID, int16(b.Weekday), clockToPG(b.Start), clockToPG(b.End))
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
