package generic

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CREDIT ACCOUNT - Per-user store credit
// =============================================================================

type CreditEntryType string

const (
	CreditIn  CreditEntryType = "credit"
	CreditOut CreditEntryType = "debit"
)

// CreditEntry is one append-only movement on a credit account.
// Amount is always positive; Type carries the sign.
type CreditEntry struct {
	ID            string
	Amount        Money
	Type          CreditEntryType
	AppointmentID string
	At            time.Time
	Description   string
}

// Signed returns the entry's contribution to the balance.
func (e CreditEntry) Signed() Money {
	if e.Type == CreditOut {
		return e.Amount.Neg()
	}
	return e.Amount
}

// CreditAccount is a denormalized balance plus the history it is derived from.
// Balance and History only change together through Credit and Debit.
type CreditAccount struct {
	Balance Money
	History []CreditEntry
}

// Credit adds amount to the balance and appends a credit entry.
func (a *CreditAccount) Credit(amount Money, appointmentID, description string, at time.Time) (CreditEntry, error) {
	if !amount.IsPositive() {
		return CreditEntry{}, ErrNonPositiveAmount
	}
	entry := CreditEntry{
		ID:            uuid.NewString(),
		Amount:        amount,
		Type:          CreditIn,
		AppointmentID: appointmentID,
		At:            at,
		Description:   description,
	}
	a.Balance = a.Balance.Add(amount)
	a.History = append(a.History, entry)
	return entry, nil
}

// Debit removes amount from the balance and appends a debit entry.
func (a *CreditAccount) Debit(amount Money, appointmentID, description string, at time.Time) (CreditEntry, error) {
	if !amount.IsPositive() {
		return CreditEntry{}, ErrNonPositiveAmount
	}
	if amount.GreaterThan(a.Balance) {
		return CreditEntry{}, ErrInsufficientCredit
	}
	entry := CreditEntry{
		ID:            uuid.NewString(),
		Amount:        amount,
		Type:          CreditOut,
		AppointmentID: appointmentID,
		At:            at,
		Description:   description,
	}
	a.Balance = a.Balance.Sub(amount)
	a.History = append(a.History, entry)
	return entry, nil
}

// HistoryTotal sums the history with debits negative.
func (a CreditAccount) HistoryTotal() Money {
	total := Zero()
	for _, e := range a.History {
		total = total.Add(e.Signed())
	}
	return total
}

// Reconciles reports whether the stored balance agrees with the history.
func (a CreditAccount) Reconciles() bool {
	return a.Balance.Equal(a.HistoryTotal()) && !a.Balance.IsNegative()
}
