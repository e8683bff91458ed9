/*
service.go - Reconciliation orchestrator

PURPOSE:
  Runs every use case as one all-or-nothing unit of work. The Service is the
  only code that mutates a payment ledger and a credit account together.

UNIT OF WORK:
  1. Validate the request (no storage touched)
  2. CreateBooking only: acquire the (practitioner, date) lock
  3. Store.WithTx: load, check, allocate, apply ledger operations, write
  4. After commit: metrics, events, logs

  Any error inside step 3 rolls back every write of that use case. The
  in-memory copies mutated by generic.ApplyPayment are discarded with it.

GATEWAY PAYMENTS:
  Initiation commits the PendingPayment marker before calling the gateway,
  so no lock or transaction is held across the network round-trip.
  Confirmation arrives as a separate call and recomputes the amount from
  the ledger; the gateway's own figure is only logged.

SEE ALSO:
  - generic/ledger.go: ApplyPayment, RefundToCredit
  - availability.go: Checker
  - store.go: Store contract
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/booking-engine/generic"
	"github.com/warp/booking-engine/lock"
	"github.com/warp/booking-engine/logging"
	"github.com/warp/booking-engine/metrics"
)

var tracer = otel.Tracer("github.com/warp/booking-engine/booking")

// =============================================================================
// SERVICE
// =============================================================================

// Policy holds the facility rules enforced by the use cases.
type Policy struct {
	Open          generic.Clock
	Close         generic.Clock
	BufferMinutes int
	LatestLimit   int
}

func DefaultPolicy() Policy {
	return Policy{
		Open:          generic.NewClock(8, 0),
		Close:         generic.NewClock(18, 0),
		BufferMinutes: generic.DefaultBufferMinutes,
		LatestLimit:   10,
	}
}

type Service struct {
	store     Store
	gateway   Gateway
	locker    Locker
	publisher Publisher
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	policy    Policy
	now       func() time.Time
}

type Option func(*Service)

func WithGateway(g Gateway) Option { return func(s *Service) { s.gateway = g } }
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.logger = l } }
func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locker: lock.NewLocal(),
		logger: logging.Nop(),
		policy: DefaultPolicy(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the rules the service was built with.
func (s *Service) Policy() Policy { return s.policy }

// Result is what every mutating use case returns. On error, Success is
// false and Message carries the error text.
type Result struct {
	Success       bool
	Message       string
	Appointment   *Appointment
	User          *User
	CreditBalance *generic.Money
	Payment       *generic.PaymentOutcome
	Checkout      *Checkout
}

func failure(err error) *Result {
	return &Result{Success: false, Message: err.Error()}
}

// =============================================================================
// AVAILABILITY
// =============================================================================

type AvailabilityQuery struct {
	Practitioner    string
	Date            string
	Start           string
	DurationMinutes int
}

type Availability struct {
	Success   bool
	Message   string
	Available bool
	Conflict  *generic.Slot
}

// CheckAvailability is read-only; CreateBooking repeats the check under lock.
func (s *Service) CheckAvailability(ctx context.Context, q AvailabilityQuery) (res *Availability, err error) {
	ctx, done := s.observe(ctx, "check_availability",
		attribute.String("practitioner", q.Practitioner), attribute.String("date", q.Date))
	defer func() {
		done(err)
		if err != nil {
			res = &Availability{Success: false, Message: err.Error()}
		}
	}()

	if q.Practitioner == "" {
		return nil, missingField("practitioner")
	}
	day, slot, err := s.parseSlot(q.Date, q.Start, q.DurationMinutes)
	if err != nil {
		return nil, err
	}

	ok, conflict, err := NewChecker(s.store, s.policy.BufferMinutes).IsAvailable(ctx, q.Practitioner, day, slot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Availability{Success: true, Message: ErrSlotUnavailable.Message, Available: false, Conflict: conflict}, nil
	}
	return &Availability{Success: true, Message: "Slot available", Available: true}, nil
}

// =============================================================================
// NEW BOOKING
// =============================================================================

type BookingRequest struct {
	UserID          string
	TreatmentID     string
	Practitioner    string
	Date            string
	Start           string
	DurationMinutes int
	Amount          generic.Money
	PaymentType     string
	UseCredit       bool
	// PaymentMethod collects the remainder at the desk (cash, speed_point,
	// admin_credit). Empty leaves it outstanding for a gateway payment.
	PaymentMethod string
}

// CreateBooking checks the slot, allocates a booking number, inserts the
// appointment and applies the booking payment in one unit of work.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (res *Result, err error) {
	ctx, done := s.observe(ctx, "create_booking",
		attribute.String("user_id", req.UserID), attribute.String("treatment_id", req.TreatmentID))
	defer func() { res = conclude(done, res, err) }()

	if req.UserID == "" {
		return nil, missingField("userId")
	}
	if req.TreatmentID == "" {
		return nil, missingField("treatmentId")
	}
	typ, err := generic.ParsePaymentType(req.PaymentType)
	if err != nil || !typ.IsBookingType() {
		return nil, generic.ErrInvalidPaymentType
	}
	if !req.Amount.IsPositive() {
		return nil, generic.ErrNonPositiveAmount
	}
	method, err := collectionMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	day, slot, err := s.parseSlot(req.Date, req.Start, req.DurationMinutes)
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetTreatment(ctx, req.TreatmentID)
	if err != nil {
		return nil, fmt.Errorf("load treatment: %w", err)
	}
	if t == nil {
		return nil, ErrTreatmentNotFound
	}
	practitioner, err := resolvePractitioner(req.Practitioner, t)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, slotKey(practitioner, day))
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	var appt Appointment
	var balance generic.Money
	var outcome generic.PaymentOutcome

	err = s.store.WithTx(ctx, func(repo Repository) error {
		user, err := loadUser(ctx, repo, req.UserID)
		if err != nil {
			return err
		}
		treatment, err := repo.GetTreatment(ctx, req.TreatmentID)
		if err != nil {
			return fmt.Errorf("load treatment: %w", err)
		}
		if treatment == nil {
			return ErrTreatmentNotFound
		}
		if !treatment.Available {
			return ErrTreatmentUnavailable
		}
		if treatment.Practitioner != "" && treatment.Practitioner != practitioner {
			return ErrPractitionerMismatch
		}

		ok, _, err := NewChecker(repo, s.policy.BufferMinutes).IsAvailable(ctx, practitioner, day, slot)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSlotUnavailable
		}

		number, err := repo.NextBookingNumber(ctx)
		if err != nil {
			return fmt.Errorf("allocate booking number: %w", err)
		}

		appt = Appointment{
			ID:            uuid.NewString(),
			BookingNumber: number,
			UserID:        user.ID,
			TreatmentID:   treatment.ID,
			Practitioner:  practitioner,
			Date:          day,
			Slot:          slot,
			PaymentType:   typ,
			PaymentLedger: generic.NewPaymentLedger(req.Amount),
			User:          user.Snapshot(),
			Treatment:     treatment.Snapshot(),
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		required := req.Amount
		if typ == generic.PaymentPartial {
			required = req.Amount.Half()
		}
		outcome, err = generic.ApplyPayment(&appt.PaymentLedger, &user.Credit, generic.PaymentRequest{
			Required:      required,
			Type:          typ,
			Method:        method,
			UseCredit:     req.UseCredit,
			AppointmentID: appt.ID,
			At:            now,
		})
		if err != nil {
			return err
		}

		if err := repo.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if err := saveCredit(ctx, repo, user, outcome.CreditEntries); err != nil {
			return err
		}
		balance = user.Credit.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordPayments(outcome.Details)
	s.publish(ctx, newEvent(EventBookingCreated, appt, now, map[string]any{
		"practitioner": practitioner,
		"date":         day.String(),
		"start":        slot.Start.String(),
		"paid":         appt.Paid.String(),
		"outstanding":  outcome.Outstanding.String(),
	}))
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"booking_number", appt.BookingNumber,
		"practitioner", practitioner,
		"date", day.String(),
		"start", slot.Start.String(),
		"payment_status", appt.Status,
	)

	msg := "Appointment booked successfully"
	if outcome.Outstanding.IsPositive() {
		msg = fmt.Sprintf("Appointment booked, %s outstanding", outcome.Outstanding.Fixed())
	}
	return &Result{Success: true, Message: msg, Appointment: &appt, CreditBalance: &balance, Payment: &outcome}, nil
}

// resolvePractitioner picks the practitioner a booking is locked and
// checked against: the treatment's own, which a caller may repeat but not
// replace.
func resolvePractitioner(requested string, t *Treatment) (string, error) {
	switch {
	case t.Practitioner == "" && requested == "":
		return "", missingField("practitioner")
	case t.Practitioner == "":
		return requested, nil
	case requested != "" && requested != t.Practitioner:
		return "", ErrPractitionerMismatch
	default:
		return t.Practitioner, nil
	}
}

// =============================================================================
// BALANCE PAYMENT
// =============================================================================

type BalancePaymentRequest struct {
	AppointmentID string
	PaymentMethod string
	UseCredit     bool
}

// ApplyBalancePayment settles whatever is still owed: credit first, then
// the given method.
func (s *Service) ApplyBalancePayment(ctx context.Context, req BalancePaymentRequest) (res *Result, err error) {
	ctx, done := s.observe(ctx, "apply_balance_payment", attribute.String("appointment_id", req.AppointmentID))
	defer func() { res = conclude(done, res, err) }()

	method, err := collectionMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var appt Appointment
	var balance generic.Money
	var outcome generic.PaymentOutcome

	err = s.store.WithTx(ctx, func(repo Repository) error {
		a, err := loadAppointment(ctx, repo, req.AppointmentID)
		if err != nil {
			return err
		}
		if a.Cancelled {
			return ErrAppointmentCancelled
		}
		if a.CreditProcessed {
			return ErrAppointmentCredited
		}
		if a.IsSettled() {
			return generic.ErrAlreadyPaid
		}
		user, err := loadUser(ctx, repo, a.UserID)
		if err != nil {
			return err
		}

		outcome, err = generic.ApplyPayment(&a.PaymentLedger, &user.Credit, generic.PaymentRequest{
			Required:      a.Remaining(),
			Type:          generic.PaymentBalance,
			Method:        method,
			UseCredit:     req.UseCredit,
			AppointmentID: a.ID,
			At:            now,
		})
		if err != nil {
			return err
		}
		if outcome.Outstanding.IsPositive() {
			return generic.ErrMethodRequired
		}

		a.UpdatedAt = now
		if err := writePayment(ctx, repo, a, outcome.Details); err != nil {
			return err
		}
		if err := saveCredit(ctx, repo, user, outcome.CreditEntries); err != nil {
			return err
		}
		appt, balance = *a, user.Credit.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordPayments(outcome.Details)
	s.publish(ctx, newEvent(EventPaymentApplied, appt, now, map[string]any{
		"credit_used": outcome.CreditUsed.String(),
		"external":    outcome.ExternalPaid.String(),
		"method":      string(method),
	}))
	s.logger.Info("balance payment applied",
		"appointment_id", appt.ID,
		"booking_number", appt.BookingNumber,
		"credit_used", outcome.CreditUsed.String(),
		"external", outcome.ExternalPaid.String(),
	)
	return &Result{Success: true, Message: "Payment accepted successfully", Appointment: &appt, CreditBalance: &balance, Payment: &outcome}, nil
}

// =============================================================================
// GATEWAY PAYMENT
// =============================================================================

type GatewayPaymentRequest struct {
	AppointmentID string
	PaymentType   string
	UseCredit     bool
}

// InitiateGatewayPayment records a PendingPayment and asks the gateway for
// a checkout. The credit is only previewed here; it is spent on confirmation.
func (s *Service) InitiateGatewayPayment(ctx context.Context, req GatewayPaymentRequest) (res *Result, err error) {
	ctx, done := s.observe(ctx, "initiate_gateway_payment", attribute.String("appointment_id", req.AppointmentID))
	defer func() { res = conclude(done, res, err) }()

	if s.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}
	typ, err := generic.ParsePaymentType(req.PaymentType)
	if err != nil || !typ.IsCollectionType() {
		return nil, generic.ErrInvalidPaymentType
	}

	now := s.now()
	var appt Appointment
	var charge generic.Money

	err = s.store.WithTx(ctx, func(repo Repository) error {
		a, err := loadAppointment(ctx, repo, req.AppointmentID)
		if err != nil {
			return err
		}
		if a.Cancelled {
			return ErrAppointmentCancelled
		}
		if a.CreditProcessed {
			return ErrAppointmentCredited
		}
		if a.IsSettled() {
			return generic.ErrAlreadyPaid
		}
		user, err := loadUser(ctx, repo, a.UserID)
		if err != nil {
			return err
		}

		requested := a.Remaining()
		if typ == generic.PaymentPartial {
			requested = a.Amount.Half().Sub(a.Paid)
			if !requested.IsPositive() {
				return ErrPartialCovered
			}
		}
		preview := generic.Zero()
		if req.UseCredit {
			preview = user.Credit.Balance.Min(requested)
		}
		charge = requested.Sub(preview)
		if !charge.IsPositive() {
			return ErrCreditCoversPayment
		}

		a.Pending = &PendingPayment{
			CorrelationID: uuid.NewString(),
			Amount:        requested,
			Charge:        charge,
			PaymentType:   typ,
			UseCredit:     req.UseCredit,
			CreatedAt:     now,
		}
		a.UpdatedAt = now
		if err := repo.UpdateAppointment(ctx, *a); err != nil {
			return fmt.Errorf("save pending payment: %w", err)
		}
		appt = *a
		return nil
	})
	if err != nil {
		return nil, err
	}

	checkout, err := s.gateway.Initiate(ctx, CheckoutRequest{
		CorrelationID: appt.Pending.CorrelationID,
		AppointmentID: appt.ID,
		BookingNumber: appt.BookingNumber,
		Amount:        charge,
		ItemName:      fmt.Sprintf("%s - Booking #%d", appt.Treatment.Name, appt.BookingNumber),
		CustomerName:  appt.User.Name,
		CustomerEmail: appt.User.Email,
	})
	if err != nil {
		s.clearPending(ctx, appt.ID, appt.Pending.CorrelationID)
		return nil, fmt.Errorf("initiate gateway payment: %w", err)
	}

	s.publish(ctx, newEvent(EventGatewayInitiated, appt, now, map[string]any{
		"correlation_id": appt.Pending.CorrelationID,
		"charge":         charge.String(),
	}))
	s.logger.Info("gateway payment initiated",
		"appointment_id", appt.ID,
		"booking_number", appt.BookingNumber,
		"correlation_id", appt.Pending.CorrelationID,
		"charge", charge.Fixed(),
	)
	return &Result{Success: true, Message: "Redirecting to payment gateway", Appointment: &appt, Checkout: checkout}, nil
}

type GatewayConfirmation struct {
	AppointmentID string
	CorrelationID string
	Success       bool
	// GatewayAmount is what the gateway says it charged. It is compared
	// with the ledger and logged, never applied.
	GatewayAmount *generic.Money
}

// ConfirmGatewayPayment finalizes or abandons the pending payment.
func (s *Service) ConfirmGatewayPayment(ctx context.Context, req GatewayConfirmation) (res *Result, err error) {
	ctx, done := s.observe(ctx, "confirm_gateway_payment",
		attribute.String("appointment_id", req.AppointmentID), attribute.Bool("success", req.Success))
	defer func() { res = conclude(done, res, err) }()

	if req.CorrelationID == "" {
		return nil, missingField("correlationId")
	}

	now := s.now()
	var appt Appointment
	var balance *generic.Money
	var outcome generic.PaymentOutcome
	msg := "Payment successful"

	err = s.store.WithTx(ctx, func(repo Repository) error {
		a, err := loadAppointment(ctx, repo, req.AppointmentID)
		if err != nil {
			return err
		}
		if a.Pending == nil || a.Pending.CorrelationID != req.CorrelationID {
			return ErrNoPendingPayment
		}
		pending := *a.Pending
		a.Pending = nil
		a.UpdatedAt = now

		if !req.Success {
			msg = "Payment cancelled"
			if a.Status == generic.StatusNone {
				a.Cancelled = true
				a.CancelledAtCheckout = true
				msg = "Payment cancelled, appointment released"
			}
			appt = *a
			return repo.UpdateAppointment(ctx, *a)
		}

		if a.CreditProcessed {
			return ErrAppointmentCredited
		}
		remaining := a.Remaining()
		if !remaining.IsPositive() {
			msg = generic.ErrAlreadyPaid.Message
			appt = *a
			return repo.UpdateAppointment(ctx, *a)
		}
		user, err := loadUser(ctx, repo, a.UserID)
		if err != nil {
			return err
		}

		// The gateway collected pending.Charge. Credit only fills the gap
		// up to the settled amount; if it shrank meanwhile the gap stays
		// outstanding.
		required := pending.Amount.Min(remaining)
		outcome, err = generic.ApplyPayment(&a.PaymentLedger, &user.Credit, generic.PaymentRequest{
			Required:      required,
			Type:          pending.PaymentType,
			Method:        generic.MethodPayFast,
			External:      pending.Charge.Min(required),
			UseCredit:     pending.UseCredit,
			AppointmentID: a.ID,
			At:            now,
		})
		if err != nil {
			return err
		}
		if outcome.Outstanding.IsPositive() {
			msg = fmt.Sprintf("Payment received, %s outstanding", outcome.Outstanding.Fixed())
		}
		if req.GatewayAmount != nil && !req.GatewayAmount.Equal(outcome.ExternalPaid) {
			s.logger.Warn("gateway amount differs from ledger",
				"appointment_id", a.ID,
				"gateway_amount", req.GatewayAmount.String(),
				"ledger_amount", outcome.ExternalPaid.String(),
			)
		}

		if err := writePayment(ctx, repo, a, outcome.Details); err != nil {
			return err
		}
		if err := saveCredit(ctx, repo, user, outcome.CreditEntries); err != nil {
			return err
		}
		appt = *a
		b := user.Credit.Balance
		balance = &b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Success {
		s.recordPayments(outcome.Details)
		s.publish(ctx, newEvent(EventPaymentApplied, appt, now, map[string]any{
			"credit_used": outcome.CreditUsed.String(),
			"external":    outcome.ExternalPaid.String(),
			"method":      string(generic.MethodPayFast),
		}))
	} else {
		s.publish(ctx, newEvent(EventGatewayFailed, appt, now, map[string]any{
			"cancelled_at_checkout": appt.CancelledAtCheckout,
		}))
	}
	s.logger.Info("gateway payment confirmed",
		"appointment_id", appt.ID,
		"booking_number", appt.BookingNumber,
		"success", req.Success,
		"payment_status", appt.Status,
	)
	return &Result{Success: true, Message: msg, Appointment: &appt, CreditBalance: balance, Payment: &outcome}, nil
}

// ExpireStalePayments clears pending payments older than ttl. Unlike a
// failure callback it never cancels the appointment.
func (s *Service) ExpireStalePayments(ctx context.Context, ttl time.Duration) (n int, err error) {
	ctx, done := s.observe(ctx, "expire_pending_payments")
	defer func() { done(err) }()

	cutoff := s.now().Add(-ttl)
	stale, err := s.store.StalePendingPayments(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale pending payments: %w", err)
	}
	for _, a := range stale {
		cleared := false
		err := s.store.WithTx(ctx, func(repo Repository) error {
			current, err := loadAppointment(ctx, repo, a.ID)
			if err != nil {
				return err
			}
			if current.Pending == nil || !current.Pending.CreatedAt.Before(cutoff) {
				return nil
			}
			current.Pending = nil
			current.UpdatedAt = s.now()
			cleared = true
			return repo.UpdateAppointment(ctx, *current)
		})
		if err != nil {
			return n, fmt.Errorf("expire pending payment %s: %w", a.ID, err)
		}
		if cleared {
			n++
		}
	}
	return n, nil
}

func (s *Service) clearPending(ctx context.Context, appointmentID, correlationID string) {
	err := s.store.WithTx(ctx, func(repo Repository) error {
		a, err := loadAppointment(ctx, repo, appointmentID)
		if err != nil {
			return err
		}
		if a.Pending == nil || a.Pending.CorrelationID != correlationID {
			return nil
		}
		a.Pending = nil
		return repo.UpdateAppointment(ctx, *a)
	})
	if err != nil {
		s.logger.Warn("clear pending payment failed", "appointment_id", appointmentID, "error", err)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

type CancelRequest struct {
	AppointmentID string
	// ActorUserID, when set, must own the appointment. Admin callers leave it empty.
	ActorUserID string
}

// CancelAppointment releases the slot. Payments and credit are untouched;
// refunding to credit is IssueCreditRefund.
func (s *Service) CancelAppointment(ctx context.Context, req CancelRequest) (res *Result, err error) {
	ctx, done := s.observe(ctx, "cancel_appointment", attribute.String("appointment_id", req.AppointmentID))
	defer func() { res = conclude(done, res, err) }()

	now := s.now()
	appt, err := s.mutate(ctx, req.AppointmentID, func(a *Appointment) error {
		if req.ActorUserID != "" && req.ActorUserID != a.UserID {
			return ErrNotOwner
		}
		if a.Cancelled {
			return ErrAlreadyCancelled
		}
		if a.Completed {
			return ErrAppointmentCompleted
		}
		a.Cancelled = true
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, newEvent(EventAppointmentCancelled, *appt, now, map[string]any{"paid": appt.Paid.String()}))
	s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "booking_number", appt.BookingNumber)
	return &Result{Success: true, Message: "Appointment cancelled", Appointment: appt}, nil
}

func (s *Service) CompleteAppointment(ctx context.Context, appointmentID string) (res *Result, err error) {
	ctx, done := s.observe(ctx, "complete_appointment", attribute.String("appointment_id", appointmentID))
	defer func() { res = conclude(done, res, err) }()

	now := s.now()
	appt, err := s.mutate(ctx, appointmentID, func(a *Appointment) error {
		if a.Cancelled {
			return ErrAppointmentCancelled
		}
		if a.Completed {
			return ErrAlreadyCompleted
		}
		a.Completed = true
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, newEvent(EventAppointmentCompleted, *appt, now, nil))
	s.logger.Info("appointment completed", "appointment_id", appt.ID, "booking_number", appt.BookingNumber)
	return &Result{Success: true, Message: "Appointment completed", Appointment: appt}, nil
}

// DeleteAppointment hard-deletes the appointment and its payment history.
// The booking counter is not rolled back.
func (s *Service) DeleteAppointment(ctx context.Context, appointmentID string) (res *Result, err error) {
	ctx, done := s.observe(ctx, "delete_appointment", attribute.String("appointment_id", appointmentID))
	defer func() { res = conclude(done, res, err) }()

	var appt Appointment
	err = s.store.WithTx(ctx, func(repo Repository) error {
		a, err := loadAppointment(ctx, repo, appointmentID)
		if err != nil {
			return err
		}
		appt = *a
		return repo.DeleteAppointment(ctx, appointmentID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, newEvent(EventAppointmentDeleted, appt, s.now(), nil))
	s.logger.Info("appointment deleted", "appointment_id", appt.ID, "booking_number", appt.BookingNumber)
	return &Result{Success: true, Message: "Appointment deleted", Appointment: &appt}, nil
}

// mutate loads one appointment, applies fn and writes it back in a unit of work.
func (s *Service) mutate(ctx context.Context, appointmentID string, fn func(*Appointment) error) (*Appointment, error) {
	var appt Appointment
	err := s.store.WithTx(ctx, func(repo Repository) error {
		a, err := loadAppointment(ctx, repo, appointmentID)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		if err := repo.UpdateAppointment(ctx, *a); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		appt = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

// =============================================================================
// CREDIT REFUND
// =============================================================================

type CreditRefundRequest struct {
	AppointmentID string
	// Amount defaults to everything paid on the appointment.
	Amount *generic.Money
}

// IssueCreditRefund moves paid money to the user's credit balance, once.
func (s *Service) IssueCreditRefund(ctx context.Context, req CreditRefundRequest) (res *Result, err error) {
	ctx, done := s.observe(ctx, "issue_credit_refund", attribute.String("appointment_id", req.AppointmentID))
	defer func() { res = conclude(done, res, err) }()

	now := s.now()
	var appt Appointment
	var balance, amount generic.Money

	err = s.store.WithTx(ctx, func(repo Repository) error {
		a, err := loadAppointment(ctx, repo, req.AppointmentID)
		if err != nil {
			return err
		}
		user, err := loadUser(ctx, repo, a.UserID)
		if err != nil {
			return err
		}

		amount = a.Paid
		if req.Amount != nil {
			amount = *req.Amount
		}
		detail, entry, err := generic.RefundToCredit(&a.PaymentLedger, &user.Credit, amount, a.ID, now)
		if err != nil {
			return err
		}

		a.UpdatedAt = now
		if err := writePayment(ctx, repo, a, []generic.TransactionDetail{detail}); err != nil {
			return err
		}
		if err := saveCredit(ctx, repo, user, []generic.CreditEntry{entry}); err != nil {
			return err
		}
		appt, balance = *a, user.Credit.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveCreditRefund(amount.Float64())
	s.publish(ctx, newEvent(EventCreditRefunded, appt, now, map[string]any{"amount": amount.String()}))
	s.logger.Info("credit refund issued",
		"appointment_id", appt.ID,
		"booking_number", appt.BookingNumber,
		"user_id", appt.UserID,
		"amount", amount.String(),
	)
	return &Result{
		Success:       true,
		Message:       fmt.Sprintf("User credited with %s", amount.Fixed()),
		Appointment:   &appt,
		CreditBalance: &balance,
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) parseSlot(date, start string, duration int) (generic.Day, generic.Slot, error) {
	day, err := generic.ParseDay(date)
	if err != nil {
		return generic.Day{}, generic.Slot{}, err
	}
	clock, err := generic.ParseClock(start)
	if err != nil {
		return generic.Day{}, generic.Slot{}, err
	}
	slot, err := generic.NewSlot(clock, duration)
	if err != nil {
		return generic.Day{}, generic.Slot{}, err
	}
	if !slot.Within(s.policy.Open, s.policy.Close) {
		return generic.Day{}, generic.Slot{}, ErrOutsideBusinessHours
	}
	return day, slot, nil
}

// collectionMethod validates a desk payment method. Gateway payments only
// arrive through ConfirmGatewayPayment.
func collectionMethod(s string) (generic.PaymentMethod, error) {
	if s == "" {
		return "", nil
	}
	m, err := generic.ParsePaymentMethod(s)
	if err != nil {
		return "", err
	}
	if !m.IsExternal() || m == generic.MethodPayFast {
		return "", generic.ErrInvalidPaymentMethod
	}
	return m, nil
}

func loadUser(ctx context.Context, repo Repository, id string) (*User, error) {
	u, err := repo.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func loadAppointment(ctx context.Context, repo Repository, id string) (*Appointment, error) {
	a, err := repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if a == nil {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

// writePayment appends new details and stores the updated ledger state.
func writePayment(ctx context.Context, repo Repository, a *Appointment, details []generic.TransactionDetail) error {
	if len(details) > 0 {
		if err := repo.AppendDetails(ctx, a.ID, details); err != nil {
			return fmt.Errorf("append transaction details: %w", err)
		}
	}
	if err := repo.UpdateAppointment(ctx, *a); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func saveCredit(ctx context.Context, repo Repository, u *User, entries []generic.CreditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := repo.SaveCredit(ctx, u.ID, u.Credit.Balance, entries); err != nil {
		return fmt.Errorf("save credit: %w", err)
	}
	return nil
}

func (s *Service) recordPayments(details []generic.TransactionDetail) {
	for _, d := range details {
		s.metrics.ObservePayment(string(d.Method), d.Amount.Float64())
	}
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", "type", ev.Type, "appointment_id", ev.AppointmentID, "error", err)
	}
}

// observe opens a span and returns the func that closes it and records
// the operation's outcome.
func (s *Service) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		outcome := outcomeLabel(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		s.metrics.ObserveOperation(op, outcome, time.Since(start))
		span.End()
	}
}

func conclude(done func(error), res *Result, err error) *Result {
	done(err)
	if err != nil {
		return failure(err)
	}
	return res
}
