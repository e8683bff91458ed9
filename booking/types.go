/*
Package booking implements appointment booking and payment reconciliation.

PURPOSE:
  This is the domain layer on top of the generic engine. It owns the
  entities (users, treatments, appointments), the persistence boundary, and
  the Service that runs every use case as one atomic unit of work.

KEY CONCEPTS:
  - Appointment: A booked slot with an embedded generic.PaymentLedger
  - User: A patient with a generic.CreditAccount
  - Treatment: A bookable service offered by a practitioner
  - PendingPayment: The single in-flight gateway payment on an appointment

USE CASES (service.go):
  CheckAvailability, CreateBooking, ApplyBalancePayment,
  InitiateGatewayPayment, ConfirmGatewayPayment, CancelAppointment,
  CompleteAppointment, DeleteAppointment, IssueCreditRefund,
  GetDashboardSummary, ListAppointments

SEE ALSO:
  - generic/ledger.go: Payment algorithm
  - store/sqlite/sqlite.go: Production Store
  - store/memory/memory.go: In-memory Store
*/
package booking

import (
	"time"

	"github.com/warp/booking-engine/generic"
)

// =============================================================================
// USER
// =============================================================================

type User struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	Credit    generic.CreditAccount
	CreatedAt time.Time
}

// Snapshot captures the display fields stored on an appointment.
func (u User) Snapshot() UserSnapshot {
	return UserSnapshot{Name: u.Name, Phone: u.Phone, Email: u.Email}
}

// =============================================================================
// TREATMENT
// =============================================================================

type Treatment struct {
	ID              string
	Name            string
	Speciality      string
	Practitioner    string
	Fee             generic.Money
	DurationMinutes int
	Available       bool
	CreatedAt       time.Time
}

func (t Treatment) Snapshot() TreatmentSnapshot {
	return TreatmentSnapshot{Name: t.Name, Speciality: t.Speciality}
}

// =============================================================================
// APPOINTMENT
// =============================================================================

// UserSnapshot is copied at booking time and never updated afterwards.
type UserSnapshot struct {
	Name  string
	Phone string
	Email string
}

// TreatmentSnapshot is copied at booking time and never updated afterwards.
type TreatmentSnapshot struct {
	Name       string
	Speciality string
}

// PendingPayment marks a gateway payment that was initiated but not yet
// confirmed. It is advisory: a newer attempt overwrites it. Amount is what
// the payment settles; Charge is the part the gateway was asked to collect.
type PendingPayment struct {
	CorrelationID string
	Amount        generic.Money
	Charge        generic.Money
	PaymentType   generic.PaymentType
	UseCredit     bool
	CreatedAt     time.Time
}

type Appointment struct {
	ID            string
	BookingNumber int64
	UserID        string
	TreatmentID   string
	Practitioner  string
	Date          generic.Day
	Slot          generic.Slot

	// PaymentType is what the user chose when booking: full or partial.
	PaymentType generic.PaymentType
	generic.PaymentLedger

	Cancelled           bool
	CancelledAtCheckout bool
	Completed           bool
	Pending             *PendingPayment

	User      UserSnapshot
	Treatment TreatmentSnapshot

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy; stores hand out clones so callers cannot
// mutate stored state outside a unit of work.
func (a Appointment) Clone() Appointment {
	c := a
	c.Details = append(generic.Details(nil), a.Details...)
	if a.Pending != nil {
		p := *a.Pending
		c.Pending = &p
	}
	return c
}

// Active reports whether the appointment still occupies its slot.
func (a Appointment) Active() bool {
	return !a.Cancelled
}

// AppointmentFilter narrows ListAppointments. Zero values match everything.
type AppointmentFilter struct {
	UserID           string
	Practitioner     string
	Date             *generic.Day
	IncludeCancelled bool
	Limit            int
}

// Matches applies the filter to one appointment.
func (f AppointmentFilter) Matches(a Appointment) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Practitioner != "" && a.Practitioner != f.Practitioner {
		return false
	}
	if f.Date != nil && !a.Date.Equal(*f.Date) {
		return false
	}
	if !f.IncludeCancelled && a.Cancelled {
		return false
	}
	return true
}

// Newer orders appointments newest first: date, then start, then number.
func Newer(a, b Appointment) bool {
	if !a.Date.Equal(b.Date) {
		return b.Date.Before(a.Date)
	}
	if a.Slot.Start != b.Slot.Start {
		return a.Slot.Start > b.Slot.Start
	}
	return a.BookingNumber > b.BookingNumber
}
