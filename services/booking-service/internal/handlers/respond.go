package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05"
)

type errorResponse struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
}

// writeError maps domain errors to status codes. Anything unrecognised is an
// infrastructure failure and is logged rather than echoed to the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var rejected *conflict.RejectedError
	switch {
	case errors.Is(err, conflict.ErrNotFound):
		status = http.StatusNotFound
		msg = "not found"
	case errors.Is(err, conflict.ErrOutsideAvailability):
		status = http.StatusUnprocessableEntity
		msg = conflict.ErrOutsideAvailability.Error()
	case errors.Is(err, conflict.ErrBookingConflict):
		status = http.StatusConflict
		msg = conflict.ErrBookingConflict.Error()
	case errors.Is(err, conflict.ErrAlreadyExists):
		status = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, booking.ErrNotReschedulable), errors.Is(err, booking.ErrNotCancellable):
		status = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, booking.ErrInvalidRequest), errors.Is(err, availability.ErrInvalidAvailabilityRecord):
		status = http.StatusBadRequest
		msg = err.Error()
	}
	if errors.As(err, &rejected) && rejected.Reason != "" {
		msg = rejected.Reason
	}
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
}

// parseLocalTime accepts naive wall-clock timestamps. An offset, if present, is dropped
// and the wall-clock reading kept, since appointment times carry no zone.
func parseLocalTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{timeLayout, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", raw)
	}
	return wallClock(t), nil
}

func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	BusinessID      string `json:"business_id"`
	StaffID         string `json:"staff_id,omitempty"`
	CustomerID      string `json:"customer_id"`
	ServiceID       string `json:"service_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

func toAppointmentItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:   a.ID,
		BusinessID:      a.BusinessID,
		StaffID:         a.StaffID,
		CustomerID:      a.CustomerID,
		ServiceID:       a.ServiceID,
		StartTime:       a.Start.Format(timeLayout),
		EndTime:         a.End().Format(timeLayout),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		CancelReason:    a.CancelReason,
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	if !a.CreatedAt.IsZero() {
		item.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}
