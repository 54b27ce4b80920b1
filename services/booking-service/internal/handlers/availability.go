package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
)

type AvailabilityConfig struct {
	Step    time.Duration
	MaxDays int
	// Now returns the current wall-clock time; slots before it are not offered.
	Now func() time.Time
}

// AvailabilityHandler serves the booking UI. Everything it returns is advisory:
// the appointment endpoints re-validate inside a transaction.
type AvailabilityHandler struct {
	source    conflict.Source
	catalog   Catalog
	validator *conflict.Validator
	logger    *slog.Logger
	cfg       AvailabilityConfig
}

func NewAvailabilityHandler(source conflict.Source, catalog Catalog, validator *conflict.Validator, logger *slog.Logger, cfg AvailabilityConfig) *AvailabilityHandler {
	if cfg.Step <= 0 {
		cfg.Step = availability.DefaultStep
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = availability.DefaultMaxDays
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return wallClock(time.Now()) }
	}
	return &AvailabilityHandler{
		source:    source,
		catalog:   catalog,
		validator: validator,
		logger:    logger,
		cfg:       cfg,
	}
}

type slotsResponse struct {
	Date     string   `json:"date"`
	Slots    []string `json:"slots"`
	Selected string   `json:"selected"`
}

func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if businessID == "" || staffID == "" {
		badRequest(w, "business_id and staff_id are required")
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	duration, ok := h.resolveDuration(w, r, businessID, q.Get("service_id"), q.Get("duration_minutes"))
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := h.source.GetStaff(ctx, businessID, staffID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sched, err := h.source.GetSchedule(ctx, businessID, staffID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	windows, err := availability.WorkingWindows(date, sched)
	if err != nil {
		if !errors.Is(err, availability.ErrInvalidAvailabilityRecord) {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Warn("invalid availability record; treating day as closed",
			"staff_id", staffID, "weekday", date.Weekday().String(), "err", err)
	}

	var slots []string
	if len(windows) > 0 {
		appts, err := h.source.ListBlockingAppointments(ctx, businessID, staffID, date, date.AddDate(0, 0, 1))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		slots = availability.FormatSlots(availability.Slots(availability.SlotQuery{
			Windows:   windows,
			Busy:      availability.BusyIntervals(appts),
			Duration:  duration,
			Step:      h.cfg.Step,
			NotBefore: h.cfg.Now(),
		}))
	}
	if slots == nil {
		slots = []string{}
	}

	writeJSON(w, http.StatusOK, slotsResponse{
		Date:     date.Format(dateLayout),
		Slots:    slots,
		Selected: availability.ReconcileSelection(strings.TrimSpace(q.Get("selected")), slots),
	})
}

type daysResponse struct {
	Days []string `json:"days"`
}

func (h *AvailabilityHandler) Days(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if businessID == "" || staffID == "" {
		badRequest(w, "business_id and staff_id are required")
		return
	}
	from := availability.Midnight(h.cfg.Now())
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			badRequest(w, "from must be YYYY-MM-DD")
			return
		}
		from = d
	}
	days := h.cfg.MaxDays
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "days must be a non-negative integer")
			return
		}
		days = n
	}

	ctx := r.Context()
	if _, err := h.source.GetStaff(ctx, businessID, staffID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sched, err := h.source.GetSchedule(ctx, businessID, staffID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := daysResponse{Days: []string{}}
	for _, d := range availability.AvailableDays(from, days, sched, h.cfg.MaxDays) {
		resp.Days = append(resp.Days, d.Format(dateLayout))
	}
	writeJSON(w, http.StatusOK, resp)
}

type validateRequest struct {
	BusinessID           string `json:"business_id"`
	StaffID              string `json:"staff_id"`
	StartTime            string `json:"start_time"`
	ServiceID            string `json:"service_id"`
	DurationMinutes      int    `json:"duration_minutes"`
	ExcludeAppointmentID string `json:"exclude_appointment_id"`
}

// Validate is a dry run of the conflict check against current data. Rule
// violations are reported with 200 and is_valid=false.
func (h *AvailabilityHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.BusinessID == "" || req.StaffID == "" {
		badRequest(w, "business_id and staff_id are required")
		return
	}
	start, err := parseLocalTime(req.StartTime)
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	duration, ok := h.resolveDuration(w, r, req.BusinessID, req.ServiceID, strconv.Itoa(req.DurationMinutes))
	if !ok {
		return
	}

	res, err := h.validator.Validate(r.Context(), h.source, conflict.Request{
		BusinessID:           req.BusinessID,
		StaffID:              req.StaffID,
		Start:                start,
		Duration:             duration,
		ExcludeAppointmentID: strings.TrimSpace(req.ExcludeAppointmentID),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := errorResponse{IsValid: res.Valid}
	if !res.Valid {
		resp.Error = res.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveDuration prefers the service's configured duration over an explicit one.
func (h *AvailabilityHandler) resolveDuration(w http.ResponseWriter, r *http.Request, businessID, serviceID, minutes string) (time.Duration, bool) {
	if serviceID = strings.TrimSpace(serviceID); serviceID != "" {
		svc, err := h.catalog.GetService(r.Context(), businessID, serviceID)
		if err != nil {
			writeError(w, h.logger, err)
			return 0, false
		}
		return time.Duration(svc.DurationMinutes) * time.Minute, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(minutes))
	if err != nil || n <= 0 {
		badRequest(w, "service_id or a positive duration_minutes is required")
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}
