package booking

import (
	"time"
)

type EventType string

const (
	EventBookingCreated       EventType = "booking.created"
	EventPaymentApplied       EventType = "payment.applied"
	EventGatewayInitiated     EventType = "payment.gateway_initiated"
	EventGatewayFailed        EventType = "payment.gateway_failed"
	EventAppointmentCancelled EventType = "appointment.cancelled"
	EventAppointmentCompleted EventType = "appointment.completed"
	EventAppointmentDeleted   EventType = "appointment.deleted"
	EventCreditRefunded       EventType = "credit.refunded"
)

// Event describes a committed change. Routing key is the Type.
type Event struct {
	Type          EventType      `json:"type"`
	AppointmentID string         `json:"appointment_id"`
	BookingNumber int64          `json:"booking_number,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

func newEvent(t EventType, a Appointment, at time.Time, data map[string]any) Event {
	return Event{
		Type:          t,
		AppointmentID: a.ID,
		BookingNumber: a.BookingNumber,
		UserID:        a.UserID,
		OccurredAt:    at,
		Data:          data,
	}
}
