/*
ledger.go - Per-appointment payment ledger

PURPOSE:
  The PaymentLedger tracks how much of an appointment's price has been paid,
  through any mix of store credit and external instruments, and records every
  movement as an append-only TransactionDetail.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Details are never edited or removed
  2. NO OVERPAYMENT: Paid never exceeds Amount after a payment is applied
  3. CREDIT FIRST: Store credit is always spent before any external method
  4. ONE REFUND: Refund-to-credit happens at most once (CreditProcessed latch),
     and a refunded ledger accepts no further payments
  5. MONOTONIC STATUS: none -> partial -> full, never backwards

EFFECTIVE PAID:
  A credit_refund entry means the money already paid went back to the user's
  credit balance. Paid is left untouched as history, but EffectivePaid is 0
  from then on. Earnings must always be computed from EffectivePaid.

EXAMPLE FLOW:
  1. Booked at 200, partial, credit 40:   credit 40, cash 60  -> paid 100, partial
  2. Balance payment with cash:            balance 100          -> paid 200, full
  3. Refund to credit:                     credit_refund 200    -> paid 200, effective 0

SEE ALSO:
  - credit.go: The account credit is drawn from and refunded to
  - booking/service.go: Applies these operations inside a unit of work
*/
package generic

import (
	"time"
)

// =============================================================================
// PAYMENT LEDGER
// =============================================================================

// PaymentLedger is the payment state embedded in an appointment.
type PaymentLedger struct {
	Amount          Money
	Paid            Money
	Status          PaymentStatus
	Details         Details
	CreditProcessed bool
}

// NewPaymentLedger starts an unpaid ledger for the given price.
func NewPaymentLedger(amount Money) PaymentLedger {
	return PaymentLedger{Amount: amount, Paid: Zero(), Status: StatusNone}
}

// Remaining is the amount still owed, never negative.
func (l PaymentLedger) Remaining() Money {
	return l.Amount.Sub(l.Paid).Max(Zero())
}

// IsSettled reports whether the price has been reached.
func (l PaymentLedger) IsSettled() bool {
	return l.Status == StatusFull
}

// EffectivePaid is the amount counted as revenue: zero once any
// credit_refund entry exists, Paid otherwise.
func (l PaymentLedger) EffectivePaid() Money {
	if l.Details.HasRefund() {
		return Zero()
	}
	return l.Paid
}

// =============================================================================
// PAYMENT APPLICATION
// =============================================================================

// PaymentRequest describes one payment against a ledger.
type PaymentRequest struct {
	// Required is the amount to settle in this operation: the full price,
	// half the price, or the remaining balance.
	Required Money
	// Type tags the external entry: full, partial or balance.
	Type PaymentType
	// Method collects whatever credit does not cover. Empty leaves the
	// remainder outstanding for a gateway payment.
	Method PaymentMethod
	// External, when positive, fixes the amount collected with Method.
	// Credit then covers at most Required - External and anything left
	// stays outstanding. Used when the external charge already happened.
	External      Money
	UseCredit     bool
	AppointmentID string
	At            time.Time
}

// PaymentOutcome reports what ApplyPayment did.
type PaymentOutcome struct {
	CreditUsed    Money
	ExternalPaid  Money
	Outstanding   Money
	Details       []TransactionDetail
	CreditEntries []CreditEntry
}

// ApplyPayment runs the payment algorithm against a ledger and, when credit
// is used, the payer's credit account:
//
//	creditUsed = min(balance, required)      if UseCredit
//	remaining  = required - creditUsed       collected with Method, if given
//	status     = StatusFor(paid, amount)
//
// With External set the external part is fixed instead:
//
//	external   = External
//	creditUsed = min(balance, required - external)   if UseCredit
//	outstanding = required - external - creditUsed
//
// All validation happens before the first mutation, so on error neither the
// ledger nor the account has changed. acct may be nil when UseCredit is false.
func ApplyPayment(l *PaymentLedger, acct *CreditAccount, req PaymentRequest) (PaymentOutcome, error) {
	if !req.Required.IsPositive() {
		return PaymentOutcome{}, ErrNonPositiveAmount
	}
	if !req.Type.IsCollectionType() {
		return PaymentOutcome{}, ErrInvalidPaymentType
	}
	if l.CreditProcessed {
		return PaymentOutcome{}, ErrAlreadyCredited
	}
	if l.IsSettled() {
		return PaymentOutcome{}, ErrAlreadyPaid
	}
	if req.Required.GreaterThan(l.Remaining()) {
		return PaymentOutcome{}, ErrOverpayment
	}
	if req.Method != "" && !req.Method.IsExternal() {
		return PaymentOutcome{}, ErrInvalidPaymentMethod
	}

	fixed := req.External.IsPositive()
	if fixed && req.Method == "" {
		return PaymentOutcome{}, ErrMethodRequired
	}
	if fixed && req.External.GreaterThan(req.Required) {
		return PaymentOutcome{}, ErrOverpayment
	}
	creditable := req.Required
	if fixed {
		creditable = req.Required.Sub(req.External)
	}

	creditUsed := Zero()
	if req.UseCredit && acct != nil && acct.Balance.IsPositive() && creditable.IsPositive() {
		creditUsed = acct.Balance.Min(creditable)
	}
	remaining := req.Required.Sub(creditUsed)
	outstanding := Zero()
	if fixed {
		outstanding = remaining.Sub(req.External)
		remaining = req.External
	}

	var creditDetail, externalDetail TransactionDetail
	var err error
	if creditUsed.IsPositive() {
		if creditDetail, err = NewCreditApplied(creditUsed, req.At); err != nil {
			return PaymentOutcome{}, err
		}
	}
	if remaining.IsPositive() && req.Method != "" {
		if externalDetail, err = NewExternalPayment(remaining, req.Method, req.Type, req.At); err != nil {
			return PaymentOutcome{}, err
		}
	}

	// Mutations start here.
	out := PaymentOutcome{CreditUsed: creditUsed, ExternalPaid: Zero(), Outstanding: outstanding}
	if creditUsed.IsPositive() {
		entry, err := acct.Debit(creditUsed, req.AppointmentID, "Used for payment", req.At)
		if err != nil {
			return PaymentOutcome{}, err
		}
		l.Details = append(l.Details, creditDetail)
		l.Paid = l.Paid.Add(creditUsed)
		out.Details = append(out.Details, creditDetail)
		out.CreditEntries = append(out.CreditEntries, entry)
	}
	if remaining.IsPositive() {
		if req.Method != "" {
			l.Details = append(l.Details, externalDetail)
			l.Paid = l.Paid.Add(remaining)
			out.ExternalPaid = remaining
			out.Details = append(out.Details, externalDetail)
		} else {
			out.Outstanding = remaining
		}
	}
	l.Status = StatusFor(l.Paid, l.Amount)
	return out, nil
}

// =============================================================================
// REFUND TO CREDIT
// =============================================================================

// RefundToCredit returns amount of the paid money to the payer's credit
// account. Paid and Status are left as they were; the credit_refund entry is
// what makes EffectivePaid zero. It can succeed at most once per ledger.
func RefundToCredit(l *PaymentLedger, acct *CreditAccount, amount Money, appointmentID string, at time.Time) (TransactionDetail, CreditEntry, error) {
	if l.CreditProcessed {
		return TransactionDetail{}, CreditEntry{}, ErrAlreadyCredited
	}
	if !amount.IsPositive() {
		return TransactionDetail{}, CreditEntry{}, ErrNonPositiveAmount
	}
	if amount.GreaterThan(l.Paid) {
		return TransactionDetail{}, CreditEntry{}, ErrRefundExceedsPaid
	}
	detail, err := NewCreditRefund(amount, at)
	if err != nil {
		return TransactionDetail{}, CreditEntry{}, err
	}

	entry, err := acct.Credit(amount, appointmentID, "Refund for cancelled appointment", at)
	if err != nil {
		return TransactionDetail{}, CreditEntry{}, err
	}
	l.Details = append(l.Details, detail)
	l.CreditProcessed = true
	return detail, entry, nil
}
