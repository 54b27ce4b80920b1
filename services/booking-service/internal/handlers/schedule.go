package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Catalog is the non-transactional data the HTTP layer reads and edits.
// storage.ScheduleRepository is the production implementation.
type Catalog interface {
	conflict.Source
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	ListAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error)
	CreateStaff(ctx context.Context, st model.Staff) (model.Staff, error)
	ListStaff(ctx context.Context, businessID string) ([]model.Staff, error)
	CreateService(ctx context.Context, svc model.Service) (model.Service, error)
	ListServices(ctx context.Context, businessID string) ([]model.Service, error)
	ReplaceSchedule(ctx context.Context, businessID string, sched availability.Schedule) error
}

type ScheduleInvalidator interface {
	Invalidate(ctx context.Context, businessID, staffID string) error
}

// ScheduleHandler is the staff schedule editor. A PUT carries the whole week as a
// draft and replaces the stored one in a single transaction.
type ScheduleHandler struct {
	catalog Catalog
	cache   ScheduleInvalidator
	logger  *slog.Logger
}

func NewScheduleHandler(catalog Catalog, cache ScheduleInvalidator, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{catalog: catalog, cache: cache, logger: logger}
}

func (h *ScheduleHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if businessID == "" || staffID == "" {
		badRequest(w, "business_id and staff_id are required")
		return
	}
	if !auth.AllowsBusiness(r.Context(), businessID) {
		forbidden(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getSchedule(w, r, businessID, staffID)
	case http.MethodPut:
		h.putSchedule(w, r, businessID, staffID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ScheduleHandler) getSchedule(w http.ResponseWriter, r *http.Request, businessID, staffID string) {
	if _, err := h.catalog.GetStaff(r.Context(), businessID, staffID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sched, err := h.catalog.GetSchedule(r.Context(), businessID, staffID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	sched.StaffID = staffID
	if sched.Days == nil {
		sched.Days = []availability.WeeklyAvailability{}
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *ScheduleHandler) putSchedule(w http.ResponseWriter, r *http.Request, businessID, staffID string) {
	var draft availability.Schedule
	if err := decodeJSON(r, &draft); err != nil {
		badRequest(w, "invalid schedule: "+err.Error())
		return
	}
	draft.StaffID = staffID
	for i := range draft.Days {
		draft.Days[i].StaffID = staffID
	}
	if err := draft.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.catalog.ReplaceSchedule(r.Context(), businessID, draft); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), businessID, staffID); err != nil {
			h.logger.Warn("schedule cache invalidation failed", "staff_id", staffID, "err", err)
		}
	}
	h.logger.Info("staff schedule replaced", "business_id", businessID, "staff_id", staffID, "days", len(draft.Days), "breaks", len(draft.Breaks))
	writeJSON(w, http.StatusOK, draft)
}

type staffRequest struct {
	BusinessID string `json:"business_id"`
	ID         string `json:"id"`
	Name       string `json:"name"`
}

type staffItem struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
}

func (h *ScheduleHandler) Staff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
		if businessID == "" {
			badRequest(w, "business_id required")
			return
		}
		if !auth.AllowsBusiness(r.Context(), businessID) {
			forbidden(w)
			return
		}
		list, err := h.catalog.ListStaff(r.Context(), businessID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		items := make([]staffItem, 0, len(list))
		for _, st := range list {
			items = append(items, staffItem{ID: st.ID, BusinessID: st.BusinessID, Name: st.Name, IsActive: st.IsActive})
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var req staffRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "invalid json body")
			return
		}
		req.BusinessID = strings.TrimSpace(req.BusinessID)
		req.Name = strings.TrimSpace(req.Name)
		if req.BusinessID == "" || req.Name == "" {
			badRequest(w, "business_id and name are required")
			return
		}
		if !auth.AllowsBusiness(r.Context(), req.BusinessID) {
			forbidden(w)
			return
		}
		st, err := h.catalog.CreateStaff(r.Context(), model.Staff{ID: strings.TrimSpace(req.ID), BusinessID: req.BusinessID, Name: req.Name})
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, staffItem{ID: st.ID, BusinessID: st.BusinessID, Name: st.Name, IsActive: st.IsActive})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type serviceRequest struct {
	BusinessID      string `json:"business_id"`
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

type serviceItem struct {
	ID              string `json:"id"`
	BusinessID      string `json:"business_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *ScheduleHandler) Services(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
		if businessID == "" {
			badRequest(w, "business_id required")
			return
		}
		if !auth.AllowsBusiness(r.Context(), businessID) {
			forbidden(w)
			return
		}
		list, err := h.catalog.ListServices(r.Context(), businessID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		items := make([]serviceItem, 0, len(list))
		for _, svc := range list {
			items = append(items, serviceItem{ID: svc.ID, BusinessID: svc.BusinessID, Name: svc.Name, DurationMinutes: svc.DurationMinutes})
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var req serviceRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "invalid json body")
			return
		}
		req.BusinessID = strings.TrimSpace(req.BusinessID)
		req.Name = strings.TrimSpace(req.Name)
		if req.BusinessID == "" || req.Name == "" || req.DurationMinutes <= 0 {
			badRequest(w, "business_id, name and a positive duration_minutes are required")
			return
		}
		if !auth.AllowsBusiness(r.Context(), req.BusinessID) {
			forbidden(w)
			return
		}
		svc, err := h.catalog.CreateService(r.Context(), model.Service{
			ID:              strings.TrimSpace(req.ID),
			BusinessID:      req.BusinessID,
			Name:            req.Name,
			DurationMinutes: req.DurationMinutes,
		})
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, serviceItem{ID: svc.ID, BusinessID: svc.BusinessID, Name: svc.Name, DurationMinutes: svc.DurationMinutes})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Routes registers every booking endpoint on mux. The staff and service editors
// are wrapped with guard, which may be nil.
func Routes(mux *http.ServeMux, avail *AvailabilityHandler, appts *AppointmentHandler, sched *ScheduleHandler, guard func(http.Handler) http.Handler) {
	if guard == nil {
		guard = func(h http.Handler) http.Handler { return h }
	}
	mux.HandleFunc("/api/v1/public/slots", avail.Slots)
	mux.HandleFunc("/api/v1/public/days", avail.Days)
	mux.HandleFunc("/api/v1/public/validate", avail.Validate)
	mux.HandleFunc("/api/v1/appointments", appts.Collection)
	mux.HandleFunc("/api/v1/appointments/reschedule", appts.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", appts.Cancel)
	mux.Handle("/api/v1/staff", guard(http.HandlerFunc(sched.Staff)))
	mux.Handle("/api/v1/staff/schedule", guard(http.HandlerFunc(sched.Schedule)))
	mux.Handle("/api/v1/services", guard(http.HandlerFunc(sched.Services)))
}
