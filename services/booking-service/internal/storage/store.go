package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

// PgStore runs booking transactions at SERIALIZABLE isolation. The exclusion
// constraint on appointments backs it up for writers that bypass the service.
type PgStore struct {
	pool *db.Pool
}

func NewPgStore(pool *db.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapTxError(err)
	}
	return mapTxError(tx.Commit(ctx))
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error) {
	return getStaff(ctx, t.tx, businessID, staffID)
}

func (t *pgTx) GetSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error) {
	return getSchedule(ctx, t.tx, businessID, staffID)
}

func (t *pgTx) ListBlockingAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return listBlockingAppointments(ctx, t.tx, businessID, staffID, from, to)
}

// LockStaff takes the staff row lock so writers for the same staff member queue up.
// The snapshot is fixed by the first statement of the transaction, so the lock only
// orders reads that come after it when it is taken first. Writers that read earlier
// are caught at commit by the serializable check or the exclusion constraint.
func (t *pgTx) LockStaff(ctx context.Context, businessID, staffID string) error {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM staff
		WHERE business_id = $1 AND id = $2 AND is_active
		FOR UPDATE
	`, businessID, staffID).Scan(&id)
	return notFound("staff", staffID, err)
}

func (t *pgTx) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	return getService(ctx, t.tx, businessID, serviceID)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, appointmentID, businessID))
	if err != nil {
		return model.Appointment{}, notFound("appointment", appointmentID, err)
	}
	return appt, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, business_id, staff_id, customer_id, service_id, start_time, end_time, duration_minutes, status)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
	`, appt.ID, appt.BusinessID, appt.StaffID, appt.CustomerID, appt.ServiceID,
		naive(appt.Start), naive(appt.End()), appt.DurationMinutes, string(appt.Status))
	return err
}

func (t *pgTx) UpdateAppointmentSchedule(ctx context.Context, appt model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET staff_id = NULLIF($3, ''),
			start_time = $4,
			end_time = $5,
			duration_minutes = $6
		WHERE id = $1 AND business_id = $2
	`, appt.ID, appt.BusinessID, appt.StaffID, naive(appt.Start), naive(appt.End()), appt.DurationMinutes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("appointment", appt.ID, pgx.ErrNoRows)
	}
	return nil
}

func (t *pgTx) CancelAppointment(ctx context.Context, businessID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = NULLIF($3, '')
		WHERE id = $1 AND business_id = $2
		RETURNING cancelled_at
	`, appointmentID, businessID, reason).Scan(&cancelledAt)
	if err != nil {
		return time.Time{}, notFound("appointment", appointmentID, err)
	}
	return cancelledAt, nil
}

// LockIdempotencyKey claims the key for this transaction, returning the appointment id
// recorded by an earlier request when there is one.
func (t *pgTx) LockIdempotencyKey(ctx context.Context, businessID, key string) (string, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return "", err
	}
	var appointmentID string
	err = t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id, '')
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(&appointmentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	return appointmentID, nil
}

func (t *pgTx) FinalizeIdempotencyKey(ctx context.Context, businessID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID)
	return err
}

func (t *pgTx) InsertOutbox(ctx context.Context, evt outbox.Event) error {
	return outbox.Append(ctx, t.tx, evt)
}
