/*
store.go - Persistence boundary for the booking service

PURPOSE:
  Defines what the Service needs from storage. Every use case runs inside
  Store.WithTx; the Repository handed to the callback sees and writes the
  same transaction, and nothing is visible to other callers until commit.

CONTRACT:
  - Get and Find return (nil, nil) when the record does not exist
  - CreateUser returns ErrDuplicatePhone when the phone is taken
  - NextBookingNumber increments a single counter row inside the caller's
    transaction; committed numbers never repeat, even after deletes
  - BookedSlots returns slots of non-cancelled appointments only
  - Credit entries and transaction details are append-only

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for tests and dev
*/
package booking

import (
	"context"
	"time"

	"github.com/warp/booking-engine/generic"
)

// Repository is the set of reads and writes a use case may perform.
type Repository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByPhone(ctx context.Context, phone string) (*User, error)
	CreateUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)
	// SaveCredit stores the new balance and appends entries in one step.
	SaveCredit(ctx context.Context, userID string, balance generic.Money, entries []generic.CreditEntry) error

	SaveTreatment(ctx context.Context, t Treatment) error
	GetTreatment(ctx context.Context, id string) (*Treatment, error)
	ListTreatments(ctx context.Context) ([]Treatment, error)
	DeleteTreatment(ctx context.Context, id string) error

	NextBookingNumber(ctx context.Context) (int64, error)
	CreateAppointment(ctx context.Context, a Appointment) error
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	// UpdateAppointment writes the mutable state: paid amount, status,
	// flags and the pending payment. Details are written by AppendDetails.
	UpdateAppointment(ctx context.Context, a Appointment) error
	AppendDetails(ctx context.Context, appointmentID string, details []generic.TransactionDetail) error
	DeleteAppointment(ctx context.Context, id string) error
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	BookedSlots(ctx context.Context, practitioner string, day generic.Day) ([]generic.Slot, error)
	StalePendingPayments(ctx context.Context, before time.Time) ([]Appointment, error)
}

// Store is a Repository that can run a unit of work.
type Store interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Repository is discarded.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
