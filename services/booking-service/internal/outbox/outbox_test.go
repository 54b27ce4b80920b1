package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
)

func TestNewAppointmentEvent(t *testing.T) {
	start := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	evt, err := NewAppointmentEvent(EventAppointmentRescheduled, AppointmentPayload{
		AppointmentID:   "appt-1",
		BusinessID:      "biz",
		StaffID:         "staff-1",
		StartTime:       FormatTime(start),
		DurationMinutes: 30,
		Status:          "scheduled",
		PreviousStart:   FormatTime(start.Add(-time.Hour)),
	})
	if err != nil {
		t.Fatalf("NewAppointmentEvent: %v", err)
	}
	if evt.AggregateType != AggregateAppointment || evt.AggregateID != "appt-1" || evt.EventType != EventAppointmentRescheduled {
		t.Fatalf("unexpected envelope %+v", evt)
	}

	var body map[string]any
	if err := json.Unmarshal(evt.Payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body["start_time"] != "2026-01-05T09:30:00" || body["previous_start_time"] != "2026-01-05T08:30:00" {
		t.Fatalf("unexpected payload %v", body)
	}
	if _, ok := body["cancelled_at"]; ok {
		t.Fatal("empty cancelled_at should be omitted")
	}
}

func TestBuildMessage(t *testing.T) {
	msg := buildMessage(context.Background(), Pending{
		EventID: "evt-1",
		Event: Event{
			AggregateType: AggregateAppointment,
			AggregateID:   "appt-1",
			EventType:     EventAppointmentCancelled,
			Payload:       []byte(`{}`),
		},
	})
	if msg.Topic != EventAppointmentCancelled || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != "evt-1" ||
		kafkax.HeaderValue(msg.Headers, "aggregate_type") != AggregateAppointment {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
}

func TestPublisherDisabledWithoutBrokers(t *testing.T) {
	p := NewPublisher(nil, nil, PublisherConfig{Brokers: " "})
	if p.Enabled() {
		t.Fatal("expected publisher to be disabled")
	}
}
