package outbox

import (
	"encoding/json"
	"time"
)

const (
	AggregateAppointment = "appointment"

	EventAppointmentScheduled   = "booking.appointment.scheduled.v1"
	EventAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	EventAppointmentCancelled   = "booking.appointment.cancelled.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentPayload is the body shared by every appointment event.
type AppointmentPayload struct {
	AppointmentID   string `json:"appointment_id"`
	BusinessID      string `json:"business_id"`
	StaffID         string `json:"staff_id,omitempty"`
	CustomerID      string `json:"customer_id,omitempty"`
	ServiceID       string `json:"service_id,omitempty"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	PreviousStart   string `json:"previous_start_time,omitempty"`
	PreviousStaffID string `json:"previous_staff_id,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func NewAppointmentEvent(eventType string, p AppointmentPayload) (Event, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   p.AppointmentID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}

// FormatTime renders naive wall-clock times the way they are stored.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}
