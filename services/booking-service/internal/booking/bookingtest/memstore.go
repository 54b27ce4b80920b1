// Package bookingtest provides an in-memory booking.Store for tests.
package bookingtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

// MemStore runs every transaction under one lock against a private copy of the
// data, committing the copy only when the callback succeeds.
type MemStore struct {
	mu    sync.Mutex
	state state
	// abortNext makes the next n transactions fail with booking.ErrTxAborted after fn returns.
	abortNext int
	now       func() time.Time
}

type state struct {
	staff        map[string]model.Staff
	services     map[string]model.Service
	schedules    map[string]availability.Schedule
	appointments map[string]model.Appointment
	idempotency  map[string]string
	events       []outbox.Event
}

func New() *MemStore {
	return &MemStore{
		state: state{
			staff:        map[string]model.Staff{},
			services:     map[string]model.Service{},
			schedules:    map[string]availability.Schedule{},
			appointments: map[string]model.Appointment{},
			idempotency:  map[string]string{},
		},
		now: time.Now,
	}
}

func key(businessID, id string) string {
	return businessID + "/" + id
}

func (s state) clone() state {
	out := state{
		staff:        make(map[string]model.Staff, len(s.staff)),
		services:     make(map[string]model.Service, len(s.services)),
		schedules:    make(map[string]availability.Schedule, len(s.schedules)),
		appointments: make(map[string]model.Appointment, len(s.appointments)),
		idempotency:  make(map[string]string, len(s.idempotency)),
		events:       append([]outbox.Event(nil), s.events...),
	}
	for k, v := range s.staff {
		out.staff[k] = v
	}
	for k, v := range s.services {
		out.services[k] = v
	}
	for k, v := range s.schedules {
		out.schedules[k] = v
	}
	for k, v := range s.appointments {
		out.appointments[k] = v
	}
	for k, v := range s.idempotency {
		out.idempotency[k] = v
	}
	return out
}

func (m *MemStore) AddStaff(st model.Staff, sched availability.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.IsActive = true
	m.state.staff[key(st.BusinessID, st.ID)] = st
	sched.StaffID = st.ID
	m.state.schedules[key(st.BusinessID, st.ID)] = sched
}

func (m *MemStore) AddService(svc model.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.services[key(svc.BusinessID, svc.ID)] = svc
}

// Seed stores an appointment without validation.
func (m *MemStore) Seed(appt model.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if appt.Status == "" {
		appt.Status = model.StatusScheduled
	}
	m.state.appointments[key(appt.BusinessID, appt.ID)] = appt
}

func (m *MemStore) AbortNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortNext = n
}

func (m *MemStore) Appointments() []model.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Appointment, 0, len(m.state.appointments))
	for _, a := range m.state.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *MemStore) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Event(nil), m.state.events...)
}

func (m *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{state: m.state.clone(), now: m.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.abortNext > 0 {
		m.abortNext--
		return fmt.Errorf("simulated serialization failure: %w", booking.ErrTxAborted)
	}
	m.state = tx.state
	return nil
}

// Source returns a read view of committed data for advisory queries.
func (m *MemStore) Source() conflict.Source {
	return readView{m: m}
}

type readView struct {
	m *MemStore
}

func (r readView) view() *memTx {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return &memTx{state: r.m.state.clone(), now: r.m.now}
}

func (r readView) GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error) {
	return r.view().GetStaff(ctx, businessID, staffID)
}

func (r readView) GetSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error) {
	return r.view().GetSchedule(ctx, businessID, staffID)
}

func (r readView) ListBlockingAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return r.view().ListBlockingAppointments(ctx, businessID, staffID, from, to)
}

type memTx struct {
	state state
	now   func() time.Time
}

func (t *memTx) GetStaff(_ context.Context, businessID, staffID string) (model.Staff, error) {
	st, ok := t.state.staff[key(businessID, staffID)]
	if !ok || !st.IsActive {
		return model.Staff{}, fmt.Errorf("staff %s: %w", staffID, conflict.ErrNotFound)
	}
	return st, nil
}

func (t *memTx) GetSchedule(_ context.Context, businessID, staffID string) (availability.Schedule, error) {
	return t.state.schedules[key(businessID, staffID)], nil
}

func (t *memTx) ListBlockingAppointments(_ context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	window := interval.Interval{Start: from, End: to}
	var out []model.Appointment
	for _, a := range t.state.appointments {
		if a.BusinessID != businessID || a.StaffID != staffID || !a.Blocks() {
			continue
		}
		if a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (t *memTx) LockStaff(ctx context.Context, businessID, staffID string) error {
	_, err := t.GetStaff(ctx, businessID, staffID)
	return err
}

func (t *memTx) GetService(_ context.Context, businessID, serviceID string) (model.Service, error) {
	svc, ok := t.state.services[key(businessID, serviceID)]
	if !ok {
		return model.Service{}, fmt.Errorf("service %s: %w", serviceID, conflict.ErrNotFound)
	}
	return svc, nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, businessID, appointmentID string) (model.Appointment, error) {
	a, ok := t.state.appointments[key(businessID, appointmentID)]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", appointmentID, conflict.ErrNotFound)
	}
	return a, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt model.Appointment) error {
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = t.now().UTC()
	}
	t.state.appointments[key(appt.BusinessID, appt.ID)] = appt
	return nil
}

func (t *memTx) UpdateAppointmentSchedule(_ context.Context, appt model.Appointment) error {
	k := key(appt.BusinessID, appt.ID)
	cur, ok := t.state.appointments[k]
	if !ok {
		return fmt.Errorf("appointment %s: %w", appt.ID, conflict.ErrNotFound)
	}
	cur.Start = appt.Start
	cur.StaffID = appt.StaffID
	cur.DurationMinutes = appt.DurationMinutes
	t.state.appointments[k] = cur
	return nil
}

func (t *memTx) CancelAppointment(_ context.Context, businessID, appointmentID, reason string) (time.Time, error) {
	k := key(businessID, appointmentID)
	cur, ok := t.state.appointments[k]
	if !ok {
		return time.Time{}, fmt.Errorf("appointment %s: %w", appointmentID, conflict.ErrNotFound)
	}
	at := t.now().UTC()
	cur.Status = model.StatusCancelled
	cur.CancelledAt = &at
	cur.CancelReason = reason
	t.state.appointments[k] = cur
	return at, nil
}

func (t *memTx) LockIdempotencyKey(_ context.Context, businessID, k string) (string, error) {
	return t.state.idempotency[key(businessID, k)], nil
}

func (t *memTx) FinalizeIdempotencyKey(_ context.Context, businessID, k, appointmentID string) error {
	t.state.idempotency[key(businessID, k)] = appointmentID
	return nil
}

func (t *memTx) InsertOutbox(_ context.Context, evt outbox.Event) error {
	t.state.events = append(t.state.events, evt)
	return nil
}

// Catalog methods mirror storage.ScheduleRepository against committed data.

func (m *MemStore) GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error) {
	return m.Source().GetStaff(ctx, businessID, staffID)
}

func (m *MemStore) GetSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error) {
	return m.Source().GetSchedule(ctx, businessID, staffID)
}

func (m *MemStore) ListBlockingAppointments(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return m.Source().ListBlockingAppointments(ctx, businessID, staffID, from, to)
}

func (m *MemStore) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	return readView{m: m}.view().GetService(ctx, businessID, serviceID)
}

func (m *MemStore) ListAppointments(_ context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	window := interval.Interval{Start: from, End: to}
	var out []model.Appointment
	for _, a := range m.Appointments() {
		if a.BusinessID == businessID && a.StaffID == staffID && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemStore) CreateStaff(_ context.Context, st model.Staff) (model.Staff, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(st.BusinessID, st.ID)
	if _, ok := m.state.staff[k]; ok {
		return model.Staff{}, fmt.Errorf("staff %s: %w", st.ID, conflict.ErrAlreadyExists)
	}
	st.CreatedAt = m.now().UTC()
	st.IsActive = true
	m.state.staff[k] = st
	m.state.schedules[k] = availability.Schedule{StaffID: st.ID}
	return st, nil
}

func (m *MemStore) ListStaff(_ context.Context, businessID string) ([]model.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Staff
	for _, st := range m.state.staff {
		if st.BusinessID == businessID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) CreateService(_ context.Context, svc model.Service) (model.Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(svc.BusinessID, svc.ID)
	if _, ok := m.state.services[k]; ok {
		return model.Service{}, fmt.Errorf("service %s: %w", svc.ID, conflict.ErrAlreadyExists)
	}
	svc.CreatedAt = m.now().UTC()
	m.state.services[k] = svc
	return svc, nil
}

func (m *MemStore) ListServices(_ context.Context, businessID string) ([]model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Service
	for _, svc := range m.state.services {
		if svc.BusinessID == businessID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) ReplaceSchedule(_ context.Context, businessID string, sched availability.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(businessID, sched.StaffID)
	if _, ok := m.state.staff[k]; !ok {
		return fmt.Errorf("staff %s: %w", sched.StaffID, conflict.ErrNotFound)
	}
	m.state.schedules[k] = sched
	return nil
}
