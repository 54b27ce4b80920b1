// Package conflict is the authoritative gate every appointment write passes through.
// It is read-only; callers decide where the data comes from (a cache for advisory
// checks, a serializable transaction before a write).
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrOutsideAvailability = errors.New("requested time is outside staff availability")
	ErrBookingConflict     = errors.New("slot no longer available")

	// ErrAlreadyExists marks a create that reused an existing staff or service id.
	ErrAlreadyExists = errors.New("already exists")
)

// Source feeds the validator. Implementations must return an error wrapping
// ErrNotFound when the staff member does not exist.
type Source interface {
	GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error)
	GetSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error)
	// ListBlockingAppointments returns non-cancelled appointments of the staff member
	// whose interval intersects [from, to).
	ListBlockingAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error)
}

type Request struct {
	BusinessID           string
	StaffID              string
	Start                time.Time
	Duration             time.Duration
	ExcludeAppointmentID string
}

func (r Request) Interval() interval.Interval {
	return interval.New(r.Start, r.Duration)
}

// Result is the outcome of a validation. Err is one of the package sentinels when Valid is false.
type Result struct {
	Valid  bool
	Err    error
	Reason string
}

func ok() Result {
	return Result{Valid: true}
}

func reject(err error, reason string) Result {
	return Result{Err: err, Reason: reason}
}

type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate checks that the proposed booking exists within a working window of the staff
// member and does not overlap any other non-cancelled appointment. The returned error is
// reserved for datastore failures; rule violations are reported through Result.
func (v *Validator) Validate(ctx context.Context, src Source, req Request) (Result, error) {
	ctx, span := otelx.Tracer().Start(ctx, "conflict.validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("staff_id", req.StaffID),
		attribute.String("start", req.Start.Format(time.RFC3339)),
	)

	if _, err := src.GetStaff(ctx, req.BusinessID, req.StaffID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ErrNotFound, "staff not found"), nil
		}
		span.RecordError(err)
		return Result{}, fmt.Errorf("load staff: %w", err)
	}

	proposed := req.Interval()
	if proposed.Empty() {
		return reject(ErrOutsideAvailability, "duration must be positive"), nil
	}

	sched, err := src.GetSchedule(ctx, req.BusinessID, req.StaffID)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("load schedule: %w", err)
	}
	windows, err := availability.WorkingWindows(req.Start, sched)
	if err != nil {
		if !errors.Is(err, availability.ErrInvalidAvailabilityRecord) {
			return Result{}, err
		}
		v.logger.Warn("invalid availability record; treating day as closed",
			"staff_id", req.StaffID,
			"weekday", req.Start.Weekday().String(),
			"err", err,
		)
	}
	if !containedInAny(proposed, windows) {
		return reject(ErrOutsideAvailability, fmt.Sprintf("%s-%s is outside working hours",
			proposed.Start.Format("15:04"), proposed.End.Format("15:04"))), nil
	}

	// A window never crosses midnight, so the proposal lies inside its start's calendar day.
	dayStart := availability.Midnight(req.Start)
	appts, err := src.ListBlockingAppointments(ctx, req.BusinessID, req.StaffID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("load appointments: %w", err)
	}
	for _, a := range appts {
		if a.ID != "" && a.ID == req.ExcludeAppointmentID {
			continue
		}
		if !a.Blocks() {
			continue
		}
		if proposed.Overlaps(a.Interval()) {
			span.SetAttributes(attribute.String("conflict_with", a.ID))
			return reject(ErrBookingConflict, "slot no longer available"), nil
		}
	}
	return ok(), nil
}

func containedInAny(iv interval.Interval, windows []interval.Interval) bool {
	for _, w := range windows {
		if w.Contains(iv) {
			return true
		}
	}
	return false
}

// RejectedError carries a failed Result through an error return.
type RejectedError struct {
	Err    error
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// AsError returns nil for a valid result and a *RejectedError otherwise.
func (r Result) AsError() error {
	if r.Valid {
		return nil
	}
	return &RejectedError{Err: r.Err, Reason: r.Reason}
}
