package booking

import (
	"errors"

	"github.com/warp/booking-engine/generic"
)

var (
	ErrUserNotFound        = generic.NewError(generic.ErrNotFound, "User not found")
	ErrTreatmentNotFound   = generic.NewError(generic.ErrNotFound, "Treatment not found")
	ErrAppointmentNotFound = generic.NewError(generic.ErrNotFound, "Appointment not found")

	ErrSlotUnavailable      = generic.NewError(generic.ErrConflict, "Slot not available")
	ErrDuplicatePhone       = generic.NewError(generic.ErrConflict, "A user with this phone number already exists")
	ErrTreatmentUnavailable = generic.NewError(generic.ErrConflict, "Treatment is not available for booking")
	ErrAppointmentCancelled = generic.NewError(generic.ErrConflict, "Appointment is cancelled")
	ErrAppointmentCompleted = generic.NewError(generic.ErrConflict, "Appointment is already completed")
	ErrNoPendingPayment     = generic.NewError(generic.ErrConflict, "No matching pending payment for this appointment")
	ErrAppointmentCredited  = generic.NewError(generic.ErrConflict, "Appointment was refunded to credit, no further payments accepted")

	ErrAlreadyCancelled = generic.NewError(generic.ErrAlreadyFinal, "Appointment already cancelled")
	ErrAlreadyCompleted = generic.NewError(generic.ErrAlreadyFinal, "Appointment already completed")

	ErrNotOwner             = generic.NewError(generic.ErrInvalidInput, "Unauthorized action")
	ErrOutsideBusinessHours = generic.NewError(generic.ErrInvalidInput, "Slot is outside business hours")
	ErrPartialCovered       = generic.NewError(generic.ErrInvalidInput, "Deposit already paid, pay the balance instead")
	ErrCreditCoversPayment  = generic.NewError(generic.ErrInvalidInput, "Credit balance covers this payment, use a balance payment instead")
	ErrPractitionerMismatch = generic.NewError(generic.ErrInvalidInput, "Practitioner does not offer this treatment")

	ErrGatewayNotConfigured = errors.New("payment gateway is not configured")
)

func missingField(name string) error {
	return generic.NewError(generic.ErrInvalidInput, name+" is required")
}

// outcomeLabel names an error's kind for metrics and spans.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, generic.ErrNotFound):
		return "not_found"
	case errors.Is(err, generic.ErrConflict):
		return "conflict"
	case errors.Is(err, generic.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, generic.ErrAlreadyFinal):
		return "already_final"
	default:
		return "error"
	}
}
