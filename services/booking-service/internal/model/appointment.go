package model

import (
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/interval"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusPending:
		return true
	}
	return false
}

// Appointment start times are naive wall-clock values carried in time.UTC.
type Appointment struct {
	ID              string
	BusinessID      string
	StaffID         string
	CustomerID      string
	ServiceID       string
	Start           time.Time
	DurationMinutes int
	Status          Status
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration())
}

func (a Appointment) Interval() interval.Interval {
	return interval.New(a.Start, a.Duration())
}

// Blocks reports whether the appointment occupies its staff member's time.
func (a Appointment) Blocks() bool {
	return a.Status != StatusCancelled
}

type Staff struct {
	ID         string
	BusinessID string
	Name       string
	IsActive   bool
	CreatedAt  time.Time
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	CreatedAt       time.Time
}
