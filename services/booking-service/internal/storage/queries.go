package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `id, business_id, COALESCE(staff_id, ''), customer_id, service_id,
	start_time, duration_minutes, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.StaffID,
		&appt.CustomerID,
		&appt.ServiceID,
		&appt.Start,
		&appt.DurationMinutes,
		&status,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.Start = naive(appt.Start)
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// naive drops any location so wall-clock values compare equal regardless of driver defaults.
func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func getStaff(ctx context.Context, q querier, businessID, staffID string) (model.Staff, error) {
	var st model.Staff
	err := q.QueryRow(ctx, `
		SELECT id, business_id, name, is_active, created_at
		FROM staff
		WHERE business_id = $1 AND id = $2 AND is_active
	`, businessID, staffID).Scan(&st.ID, &st.BusinessID, &st.Name, &st.IsActive, &st.CreatedAt)
	if err != nil {
		return model.Staff{}, notFound("staff", staffID, err)
	}
	return st, nil
}

func getService(ctx context.Context, q querier, businessID, serviceID string) (model.Service, error) {
	var svc model.Service
	err := q.QueryRow(ctx, `
		SELECT id, business_id, name, duration_minutes, created_at
		FROM services
		WHERE business_id = $1 AND id = $2
	`, businessID, serviceID).Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.CreatedAt)
	if err != nil {
		return model.Service{}, notFound("service", serviceID, err)
	}
	return svc, nil
}

func clockFromPG(t pgtype.Time) availability.ClockTime {
	return availability.ClockTime(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func clockToPG(c availability.ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

// getSchedule reads the weekly records and breaks of a staff member scoped to the business.
func getSchedule(ctx context.Context, q querier, businessID, staffID string) (availability.Schedule, error) {
	sched := availability.Schedule{StaffID: staffID}

	rows, err := q.Query(ctx, `
		SELECT a.weekday, a.start_time, a.end_time
		FROM staff_weekly_availability a
		JOIN staff s ON s.id = a.staff_id
		WHERE s.business_id = $1 AND a.staff_id = $2
		ORDER BY a.weekday
	`, businessID, staffID)
	if err != nil {
		return availability.Schedule{}, err
	}
	for rows.Next() {
		var wd int16
		var start, end pgtype.Time
		if err := rows.Scan(&wd, &start, &end); err != nil {
			rows.Close()
			return availability.Schedule{}, err
		}
		sched.Days = append(sched.Days, availability.WeeklyAvailability{
			StaffID: staffID,
			Weekday: time.Weekday(wd),
			Start:   clockFromPG(start),
			End:     clockFromPG(end),
		})
	}
	rows.Close()
	if rows.Err() != nil {
		return availability.Schedule{}, rows.Err()
	}

	rows, err = q.Query(ctx, `
		SELECT b.weekday, b.start_time, b.end_time
		FROM staff_breaks b
		JOIN staff s ON s.id = b.staff_id
		WHERE s.business_id = $1 AND b.staff_id = $2
		ORDER BY b.weekday, b.start_time
	`, businessID, staffID)
	if err != nil {
		return availability.Schedule{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var wd int16
		var start, end pgtype.Time
		if err := rows.Scan(&wd, &start, &end); err != nil {
			return availability.Schedule{}, err
		}
		sched.Breaks = append(sched.Breaks, availability.BreakPeriod{
			Weekday: time.Weekday(wd),
			Start:   clockFromPG(start),
			End:     clockFromPG(end),
		})
	}
	if rows.Err() != nil {
		return availability.Schedule{}, rows.Err()
	}
	return sched, nil
}

func listBlockingAppointments(ctx context.Context, q querier, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND staff_id = $2
			AND status <> 'cancelled'
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, businessID, staffID, naive(from), naive(to))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}
