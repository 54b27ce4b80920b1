// Package booking wraps the conflict validator and the appointment write in one
// serializable transaction so that two concurrent requests can never both book
// overlapping time for the same staff member.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
)

// ErrTxAborted is returned by a Store when the transaction lost a race against a
// concurrent writer (serialization failure, deadlock, exclusion violation).
// The whole unit of work may be retried with a fresh validation pass.
var ErrTxAborted = errors.New("transaction aborted by concurrent writer")

var (
	ErrNotReschedulable = errors.New("appointment cannot be rescheduled")
	ErrNotCancellable   = errors.New("appointment cannot be cancelled")
	ErrInvalidRequest   = errors.New("invalid booking request")
)

// Store runs fn inside a single serializable transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view used by the service. Reads through the embedded
// conflict.Source observe the same snapshot the write commits against.
type Tx interface {
	conflict.Source

	// LockStaff serializes writers for one staff member. Missing staff wraps conflict.ErrNotFound.
	LockStaff(ctx context.Context, businessID, staffID string) error
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	GetAppointmentForUpdate(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) error
	UpdateAppointmentSchedule(ctx context.Context, appt model.Appointment) error
	CancelAppointment(ctx context.Context, businessID, appointmentID, reason string) (time.Time, error)
	// LockIdempotencyKey returns the appointment id already recorded for the key, if any.
	LockIdempotencyKey(ctx context.Context, businessID, key string) (string, error)
	FinalizeIdempotencyKey(ctx context.Context, businessID, key, appointmentID string) error
	InsertOutbox(ctx context.Context, evt outbox.Event) error
}

type Config struct {
	MaxAttempts int
}

type Service struct {
	store       Store
	validator   *conflict.Validator
	logger      *slog.Logger
	maxAttempts int
}

func NewService(store Store, validator *conflict.Validator, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		validator:   validator,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
	}
}

type CreateRequest struct {
	BusinessID     string
	StaffID        string
	CustomerID     string
	ServiceID      string
	Start          time.Time
	IdempotencyKey string
}

// Create validates and persists a new appointment. Rule violations are returned as
// *conflict.RejectedError wrapping one of the conflict sentinels.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.BusinessID == "" || req.ServiceID == "" || req.CustomerID == "" || req.Start.IsZero() {
		return model.Appointment{}, fmt.Errorf("%w: business_id, customer_id, service_id and start are required", ErrInvalidRequest)
	}

	ctx, span := otelx.Tracer().Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(attribute.String("staff_id", req.StaffID), attribute.String("service_id", req.ServiceID))

	var created model.Appointment
	err := s.withRetry(ctx, func(ctx context.Context, tx Tx) error {
		// The staff lock comes first so the snapshot is taken after any writer ahead of us commits.
		if req.StaffID != "" {
			if err := lockStaff(ctx, tx, req.BusinessID, req.StaffID); err != nil {
				return err
			}
		}
		key := strings.TrimSpace(req.IdempotencyKey)
		if key != "" {
			existingID, err := tx.LockIdempotencyKey(ctx, req.BusinessID, key)
			if err != nil {
				return err
			}
			if existingID != "" {
				appt, err := tx.GetAppointmentForUpdate(ctx, req.BusinessID, existingID)
				if err != nil {
					return err
				}
				created = appt
				return nil
			}
		}

		svc, err := tx.GetService(ctx, req.BusinessID, req.ServiceID)
		if err != nil {
			if errors.Is(err, conflict.ErrNotFound) {
				return &conflict.RejectedError{Err: conflict.ErrNotFound, Reason: "service not found"}
			}
			return err
		}
		if svc.DurationMinutes <= 0 {
			return fmt.Errorf("%w: service %s has no duration", ErrInvalidRequest, svc.ID)
		}

		appt := model.Appointment{
			ID:              uuid.NewString(),
			BusinessID:      req.BusinessID,
			StaffID:         req.StaffID,
			CustomerID:      req.CustomerID,
			ServiceID:       req.ServiceID,
			Start:           req.Start,
			DurationMinutes: svc.DurationMinutes,
			Status:          model.StatusScheduled,
		}
		if err := s.checkWithinTx(ctx, tx, appt, ""); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, outbox.EventAppointmentScheduled, appt, nil); err != nil {
			return err
		}
		if key != "" {
			if err := tx.FinalizeIdempotencyKey(ctx, req.BusinessID, key, appt.ID); err != nil {
				return err
			}
		}
		created = appt
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return model.Appointment{}, err
	}
	s.logger.Info("appointment scheduled",
		"appointment_id", created.ID,
		"business_id", created.BusinessID,
		"staff_id", created.StaffID,
		"start", created.Start.Format(time.RFC3339),
	)
	return created, nil
}

type RescheduleRequest struct {
	BusinessID    string
	AppointmentID string
	Start         time.Time
	// StaffID moves the appointment to another staff member when set.
	StaffID string
}

func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (model.Appointment, error) {
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" || req.Start.IsZero() {
		return model.Appointment{}, fmt.Errorf("%w: business_id, appointment_id and start are required", ErrInvalidRequest)
	}

	ctx, span := otelx.Tracer().Start(ctx, "booking.reschedule")
	defer span.End()

	var updated model.Appointment
	err := s.withRetry(ctx, func(ctx context.Context, tx Tx) error {
		if staffID := strings.TrimSpace(req.StaffID); staffID != "" {
			if err := lockStaff(ctx, tx, req.BusinessID, staffID); err != nil {
				return err
			}
		}
		current, err := tx.GetAppointmentForUpdate(ctx, req.BusinessID, req.AppointmentID)
		if err != nil {
			if errors.Is(err, conflict.ErrNotFound) {
				return &conflict.RejectedError{Err: conflict.ErrNotFound, Reason: "appointment not found"}
			}
			return err
		}
		if current.Status != model.StatusScheduled && current.Status != model.StatusPending {
			return fmt.Errorf("%w: status is %s", ErrNotReschedulable, current.Status)
		}

		next := current
		next.Start = req.Start
		if staffID := strings.TrimSpace(req.StaffID); staffID != "" {
			next.StaffID = staffID
		}
		if err := s.checkWithinTx(ctx, tx, next, current.ID); err != nil {
			return err
		}
		if err := tx.UpdateAppointmentSchedule(ctx, next); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, outbox.EventAppointmentRescheduled, next, &current); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return model.Appointment{}, err
	}
	s.logger.Info("appointment rescheduled",
		"appointment_id", updated.ID,
		"staff_id", updated.StaffID,
		"start", updated.Start.Format(time.RFC3339),
	)
	return updated, nil
}

// Cancel is idempotent: cancelling a cancelled appointment returns it unchanged.
func (s *Service) Cancel(ctx context.Context, businessID, appointmentID, reason string) (model.Appointment, error) {
	businessID = strings.TrimSpace(businessID)
	appointmentID = strings.TrimSpace(appointmentID)
	if businessID == "" || appointmentID == "" {
		return model.Appointment{}, fmt.Errorf("%w: business_id and appointment_id are required", ErrInvalidRequest)
	}

	var out model.Appointment
	err := s.withRetry(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, businessID, appointmentID)
		if err != nil {
			if errors.Is(err, conflict.ErrNotFound) {
				return &conflict.RejectedError{Err: conflict.ErrNotFound, Reason: "appointment not found"}
			}
			return err
		}
		switch appt.Status {
		case model.StatusCancelled:
			out = appt
			return nil
		case model.StatusCompleted:
			return fmt.Errorf("%w: status is %s", ErrNotCancellable, appt.Status)
		}

		cancelledAt, err := tx.CancelAppointment(ctx, businessID, appointmentID, strings.TrimSpace(reason))
		if err != nil {
			return err
		}
		appt.Status = model.StatusCancelled
		appt.CancelledAt = &cancelledAt
		appt.CancelReason = strings.TrimSpace(reason)
		if err := s.emit(ctx, tx, outbox.EventAppointmentCancelled, appt, nil); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

// lockStaff is safe to repeat within one transaction.
func lockStaff(ctx context.Context, tx Tx, businessID, staffID string) error {
	if err := tx.LockStaff(ctx, businessID, staffID); err != nil {
		if errors.Is(err, conflict.ErrNotFound) {
			return &conflict.RejectedError{Err: conflict.ErrNotFound, Reason: "staff not found"}
		}
		return err
	}
	return nil
}

// checkWithinTx runs the validator against the transaction's snapshot after taking the
// staff lock. Unassigned appointments have nothing to conflict with.
func (s *Service) checkWithinTx(ctx context.Context, tx Tx, appt model.Appointment, excludeID string) error {
	if appt.StaffID == "" {
		return nil
	}
	if err := lockStaff(ctx, tx, appt.BusinessID, appt.StaffID); err != nil {
		return err
	}
	res, err := s.validator.Validate(ctx, tx, conflict.Request{
		BusinessID:           appt.BusinessID,
		StaffID:              appt.StaffID,
		Start:                appt.Start,
		Duration:             appt.Duration(),
		ExcludeAppointmentID: excludeID,
	})
	if err != nil {
		return err
	}
	return res.AsError()
}

func (s *Service) emit(ctx context.Context, tx Tx, eventType string, appt model.Appointment, previous *model.Appointment) error {
	p := outbox.AppointmentPayload{
		AppointmentID:   appt.ID,
		BusinessID:      appt.BusinessID,
		StaffID:         appt.StaffID,
		CustomerID:      appt.CustomerID,
		ServiceID:       appt.ServiceID,
		StartTime:       outbox.FormatTime(appt.Start),
		DurationMinutes: appt.DurationMinutes,
		Status:          string(appt.Status),
		Reason:          appt.CancelReason,
	}
	if appt.CancelledAt != nil {
		p.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	if previous != nil {
		p.PreviousStart = outbox.FormatTime(previous.Start)
		if previous.StaffID != appt.StaffID {
			p.PreviousStaffID = previous.StaffID
		}
	}
	evt, err := outbox.NewAppointmentEvent(eventType, p)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	return tx.InsertOutbox(ctx, evt)
}

// withRetry re-runs the whole unit of work when the store reports a lost race. Each
// attempt re-validates against fresh data, so a loser ends with a BookingConflict.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if !errors.Is(err, ErrTxAborted) {
			return err
		}
		s.logger.Info("booking transaction aborted by concurrent writer", "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &conflict.RejectedError{Err: conflict.ErrBookingConflict, Reason: "slot no longer available"}
}
