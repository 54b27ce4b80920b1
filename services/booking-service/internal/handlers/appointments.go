package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
)

type AppointmentHandler struct {
	bookings *booking.Service
	catalog  Catalog
	logger   *slog.Logger
}

func NewAppointmentHandler(bookings *booking.Service, catalog Catalog, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{bookings: bookings, catalog: catalog, logger: logger}
}

type createAppointmentRequest struct {
	BusinessID string `json:"business_id"`
	StaffID    string `json:"staff_id"`
	CustomerID string `json:"customer_id"`
	ServiceID  string `json:"service_id"`
	StartTime  string `json:"start_time"`
}

type rescheduleAppointmentRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	StaffID       string `json:"staff_id"`
}

type cancelAppointmentRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// Collection dispatches /api/v1/appointments by method.
func (h *AppointmentHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	start, err := parseLocalTime(req.StartTime)
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}

	appt, err := h.bookings.Create(r.Context(), booking.CreateRequest{
		BusinessID:     req.BusinessID,
		StaffID:        req.StaffID,
		CustomerID:     req.CustomerID,
		ServiceID:      req.ServiceID,
		Start:          start,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentItem(appt))
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req rescheduleAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	start, err := parseLocalTime(req.StartTime)
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}

	appt, err := h.bookings.Reschedule(r.Context(), booking.RescheduleRequest{
		BusinessID:    req.BusinessID,
		AppointmentID: req.AppointmentID,
		Start:         start,
		StaffID:       req.StaffID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req cancelAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}

	appt, err := h.bookings.Cancel(r.Context(), req.BusinessID, req.AppointmentID, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

// List returns a staff member's appointments for one day, cancelled ones included.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(r.Header.Get("X-Business-Id"))
	if businessID == "" {
		businessID = strings.TrimSpace(q.Get("business_id"))
	}
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if businessID == "" || staffID == "" {
		badRequest(w, "business_id and staff_id are required")
		return
	}
	day, err := parseDate(q.Get("date"))
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}

	appts, err := h.catalog.ListAppointments(r.Context(), businessID, staffID, day, day.AddDate(0, 0, 1))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}
