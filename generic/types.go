/*
Package generic provides the core payment and scheduling engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms behind the
  booking engine: money arithmetic, the per-appointment payment ledger, the
  per-user credit account, and the slot-conflict rules. It knows nothing about
  storage, HTTP, or which practitioner is being booked.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount of currency (never float64 in the engine)
  - PaymentStatus: none -> partial -> full
  - PaymentType / PaymentMethod: How and why a payment entry was recorded
  - TransactionDetail: An immutable payment entry, tagged by PaymentType

DESIGN PRINCIPLES:
  1. Append-only: Transaction details and credit entries are never modified
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Tagged entries: Each PaymentType declares which methods it may carry

USAGE:
  price := generic.NewMoney(200)
  detail, err := generic.NewExternalPayment(price, generic.MethodCash, generic.PaymentFull, time.Now())

SEE ALSO:
  - ledger.go: Payment application and refund-to-credit
  - credit.go: Credit account (balance + history)
  - slot.go: Slot conflict rules
*/
package generic

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal currency amount
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money { return Money{Value: decimal.NewFromInt(value)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d} }

// ParseMoney parses a decimal string such as "150.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Half() Money { return Money{Value: m.Value.Div(decimal.NewFromInt(2))} }
func (m Money) Neg() Money { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool { return m.Value.IsZero() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) Equal(b Money) bool { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool { return m.Value.LessThan(b.Value) }
func (m Money) AtLeast(b Money) bool { return m.Value.GreaterThanOrEqual(b.Value) }
func (m Money) Float64() float64 { return m.Value.InexactFloat64() }
func (m Money) String() string { return m.Value.String() }

// Fixed renders the amount with two decimals, as gateways expect.
func (m Money) Fixed() string { return m.Value.StringFixed(2) }

func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

func (m Money) Max(b Money) Money {
	if m.GreaterThan(b) {
		return m
	}
	return b
}

// =============================================================================
// PAYMENT ENUMS
// =============================================================================

type PaymentStatus string

const (
	StatusNone    PaymentStatus = "none"
	StatusPartial PaymentStatus = "partial"
	StatusFull    PaymentStatus = "full"
)

// StatusFor is the single rule for payment status: nothing paid is none,
// anything below the price is partial, the price or more is full.
func StatusFor(paid, amount Money) PaymentStatus {
	switch {
	case !paid.IsPositive():
		return StatusNone
	case paid.AtLeast(amount):
		return StatusFull
	default:
		return StatusPartial
	}
}

type PaymentType string

const (
	PaymentFull         PaymentType = "full"
	PaymentPartial      PaymentType = "partial"
	PaymentCredit       PaymentType = "credit"
	PaymentCreditRefund PaymentType = "credit_refund"
	PaymentBalance      PaymentType = "balance"
)

// IsBookingType reports whether t may be chosen when an appointment is booked.
func (t PaymentType) IsBookingType() bool {
	return t == PaymentFull || t == PaymentPartial
}

// IsCollectionType reports whether t may tag money collected from the user.
func (t PaymentType) IsCollectionType() bool {
	return t == PaymentFull || t == PaymentPartial || t == PaymentBalance
}

type PaymentMethod string

const (
	MethodCash          PaymentMethod = "cash"
	MethodSpeedPoint    PaymentMethod = "speed_point"
	MethodCreditBalance PaymentMethod = "credit_balance"
	MethodPayFast       PaymentMethod = "payfast"
	MethodAdminCredit   PaymentMethod = "admin_credit"
)

// IsExternal reports whether m moves money from outside the credit account.
func (m PaymentMethod) IsExternal() bool {
	switch m {
	case MethodCash, MethodSpeedPoint, MethodPayFast, MethodAdminCredit:
		return true
	}
	return false
}

// ParsePaymentMethod validates a caller-supplied method.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	switch m {
	case MethodCash, MethodSpeedPoint, MethodCreditBalance, MethodPayFast, MethodAdminCredit:
		return m, nil
	}
	return "", ErrInvalidPaymentMethod
}

// ParsePaymentType validates a caller-supplied payment type.
func ParsePaymentType(s string) (PaymentType, error) {
	t := PaymentType(s)
	switch t {
	case PaymentFull, PaymentPartial, PaymentCredit, PaymentCreditRefund, PaymentBalance:
		return t, nil
	}
	return "", ErrInvalidPaymentType
}

// =============================================================================
// TRANSACTION DETAIL - Immutable payment entry on an appointment
// =============================================================================

// TransactionDetail is one entry in an appointment's payment history.
// The Type field is the tag; each tag admits a fixed set of methods:
//
//	credit         -> credit_balance
//	credit_refund  -> admin_credit
//	full|partial|balance -> any external method
//
// Use the New* constructors rather than building the struct by hand.
type TransactionDetail struct {
	ID          string
	Amount      Money
	Method      PaymentMethod
	Type        PaymentType
	At          time.Time
	Description string
}

// NewCreditApplied records store credit spent on the appointment.
func NewCreditApplied(amount Money, at time.Time) (TransactionDetail, error) {
	d := TransactionDetail{
		ID:          uuid.NewString(),
		Amount:      amount,
		Method:      MethodCreditBalance,
		Type:        PaymentCredit,
		At:          at,
		Description: "Paid using credit balance",
	}
	return d, d.Validate()
}

// NewExternalPayment records money collected through cash, card or gateway.
func NewExternalPayment(amount Money, method PaymentMethod, typ PaymentType, at time.Time) (TransactionDetail, error) {
	d := TransactionDetail{
		ID:          uuid.NewString(),
		Amount:      amount,
		Method:      method,
		Type:        typ,
		At:          at,
		Description: fmt.Sprintf("%s payment via %s", typ, method),
	}
	return d, d.Validate()
}

// NewCreditRefund records paid money returned to the user's credit balance.
func NewCreditRefund(amount Money, at time.Time) (TransactionDetail, error) {
	d := TransactionDetail{
		ID:          uuid.NewString(),
		Amount:      amount,
		Method:      MethodAdminCredit,
		Type:        PaymentCreditRefund,
		At:          at,
		Description: "Refunded to credit balance",
	}
	return d, d.Validate()
}

// Validate checks the amount and the tag/method pairing.
func (d TransactionDetail) Validate() error {
	if !d.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	switch d.Type {
	case PaymentCredit:
		if d.Method != MethodCreditBalance {
			return ErrInvalidPaymentMethod
		}
	case PaymentCreditRefund:
		if d.Method != MethodAdminCredit {
			return ErrInvalidPaymentMethod
		}
	case PaymentFull, PaymentPartial, PaymentBalance:
		if !d.Method.IsExternal() {
			return ErrInvalidPaymentMethod
		}
	default:
		return ErrInvalidPaymentType
	}
	return nil
}

// Details is an appointment's ordered payment history.
type Details []TransactionDetail

// Refunded returns the sum of credit_refund entries.
func (ds Details) Refunded() Money {
	total := Zero()
	for _, d := range ds {
		if d.Type == PaymentCreditRefund {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// HasRefund reports whether any credit_refund entry exists.
func (ds Details) HasRefund() bool {
	return ds.Refunded().IsPositive()
}

// Collected sums the entries that moved money onto the appointment,
// excluding refund markers.
func (ds Details) Collected() Money {
	total := Zero()
	for _, d := range ds {
		if d.Type != PaymentCreditRefund {
			total = total.Add(d.Amount)
		}
	}
	return total
}
