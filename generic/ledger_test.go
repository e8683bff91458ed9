package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var at = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func money(v int64) generic.Money {
	return generic.NewMoneyFromInt(v)
}

func accountWith(t *testing.T, balance int64) *generic.CreditAccount {
	t.Helper()
	acct := &generic.CreditAccount{Balance: generic.Zero()}
	if balance > 0 {
		_, err := acct.Credit(money(balance), "seed", "opening balance", at)
		require.NoError(t, err)
	}
	return acct
}

func assertMoney(t *testing.T, expected int64, actual generic.Money, msg string) {
	t.Helper()
	assert.True(t, actual.Equal(money(expected)), "%s: expected %d, got %s", msg, expected, actual)
}

// =============================================================================
// STATUS RULE
// =============================================================================

func TestStatusFor(t *testing.T) {
	cases := []struct {
		paid, amount int64
		want         generic.PaymentStatus
	}{
		{0, 200, generic.StatusNone},
		{1, 200, generic.StatusPartial},
		{100, 200, generic.StatusPartial},
		{200, 200, generic.StatusFull},
		{250, 200, generic.StatusFull},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, generic.StatusFor(money(c.paid), money(c.amount)), "paid %d of %d", c.paid, c.amount)
	}
}

// =============================================================================
// APPLY PAYMENT
// =============================================================================

func TestApplyPayment_CreditFirstThenCash(t *testing.T) {
	// GIVEN: Appointment at 200, user has 150 credit
	// WHEN: Paying in full with credit and cash
	// THEN: 150 from credit, 50 cash, status full, credit balance 0

	l := generic.NewPaymentLedger(money(200))
	acct := accountWith(t, 150)

	out, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required:  money(200),
		Type:      generic.PaymentFull,
		Method:    generic.MethodCash,
		UseCredit: true,
		At:        at,
	})
	require.NoError(t, err)

	assertMoney(t, 150, out.CreditUsed, "credit used")
	assertMoney(t, 50, out.ExternalPaid, "external paid")
	assertMoney(t, 200, l.Paid, "paid")
	assert.Equal(t, generic.StatusFull, l.Status)
	assertMoney(t, 0, acct.Balance, "credit balance")

	require.Len(t, l.Details, 2)
	assert.Equal(t, generic.PaymentCredit, l.Details[0].Type)
	assert.Equal(t, generic.MethodCreditBalance, l.Details[0].Method)
	assert.Equal(t, generic.PaymentFull, l.Details[1].Type)
	assert.Equal(t, generic.MethodCash, l.Details[1].Method)
	assert.True(t, acct.Reconciles())
}

func TestApplyPayment_CreditCoversEverything_NoExternalEntry(t *testing.T) {
	// GIVEN: Appointment at 100, user has 300 credit
	// WHEN: Paying in full with credit
	// THEN: Only a credit entry is recorded, 200 credit remains

	l := generic.NewPaymentLedger(money(100))
	acct := accountWith(t, 300)

	out, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required:  money(100),
		Type:      generic.PaymentFull,
		Method:    generic.MethodCash,
		UseCredit: true,
		At:        at,
	})
	require.NoError(t, err)

	assertMoney(t, 0, out.ExternalPaid, "external paid")
	require.Len(t, l.Details, 1)
	assert.Equal(t, generic.PaymentCredit, l.Details[0].Type)
	assertMoney(t, 200, acct.Balance, "credit balance")
	assert.Equal(t, generic.StatusFull, l.Status)
}

func TestApplyPayment_PartialThenBalance(t *testing.T) {
	// GIVEN: Appointment at 200 paid partially (100 cash)
	// WHEN: Paying the balance with speed point
	// THEN: Status moves partial -> full

	l := generic.NewPaymentLedger(money(200))
	_, err := generic.ApplyPayment(&l, nil, generic.PaymentRequest{
		Required: money(200).Half(),
		Type:     generic.PaymentPartial,
		Method:   generic.MethodCash,
		At:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPartial, l.Status)
	assertMoney(t, 100, l.Remaining(), "remaining")

	_, err = generic.ApplyPayment(&l, nil, generic.PaymentRequest{
		Required: l.Remaining(),
		Type:     generic.PaymentBalance,
		Method:   generic.MethodSpeedPoint,
		At:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, generic.StatusFull, l.Status)
	assertMoney(t, 200, l.Paid, "paid")
}

func TestApplyPayment_NoMethod_LeavesOutstanding(t *testing.T) {
	// GIVEN: Appointment at 200, user has 50 credit
	// WHEN: Booking with credit and no desk method
	// THEN: Credit is spent, 150 outstanding, status partial

	l := generic.NewPaymentLedger(money(200))
	acct := accountWith(t, 50)

	out, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required:  money(200),
		Type:      generic.PaymentFull,
		UseCredit: true,
		At:        at,
	})
	require.NoError(t, err)
	assertMoney(t, 150, out.Outstanding, "outstanding")
	assertMoney(t, 50, l.Paid, "paid")
	assert.Equal(t, generic.StatusPartial, l.Status)
}

func TestApplyPayment_Rejections_LeaveStateUntouched(t *testing.T) {
	cases := []struct {
		name string
		req  generic.PaymentRequest
		want error
	}{
		{"zero amount", generic.PaymentRequest{Required: money(0), Type: generic.PaymentFull, Method: generic.MethodCash}, generic.ErrNonPositiveAmount},
		{"credit tag", generic.PaymentRequest{Required: money(10), Type: generic.PaymentCredit, Method: generic.MethodCash}, generic.ErrInvalidPaymentType},
		{"overpayment", generic.PaymentRequest{Required: money(500), Type: generic.PaymentFull, Method: generic.MethodCash}, generic.ErrOverpayment},
		{"credit_balance method", generic.PaymentRequest{Required: money(10), Type: generic.PaymentFull, Method: generic.MethodCreditBalance}, generic.ErrInvalidPaymentMethod},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := generic.NewPaymentLedger(money(200))
			acct := accountWith(t, 80)
			c.req.UseCredit = true

			_, err := generic.ApplyPayment(&l, acct, c.req)
			assert.ErrorIs(t, err, c.want)
			assertMoney(t, 0, l.Paid, "paid")
			assert.Empty(t, l.Details)
			assertMoney(t, 80, acct.Balance, "credit balance")
		})
	}
}

func TestApplyPayment_Settled_AlreadyPaid(t *testing.T) {
	l := generic.NewPaymentLedger(money(100))
	_, err := generic.ApplyPayment(&l, nil, generic.PaymentRequest{
		Required: money(100), Type: generic.PaymentFull, Method: generic.MethodCash, At: at,
	})
	require.NoError(t, err)

	_, err = generic.ApplyPayment(&l, nil, generic.PaymentRequest{
		Required: money(1), Type: generic.PaymentBalance, Method: generic.MethodCash, At: at,
	})
	assert.ErrorIs(t, err, generic.ErrAlreadyPaid)
	assert.True(t, generic.IsAlreadyFinal(err))
}

func TestApplyPayment_FixedExternal_CreditShrank(t *testing.T) {
	// GIVEN: Appointment at 200, 50 already charged externally, credit spent elsewhere
	// WHEN: Applying 200 with External 50 and credit
	// THEN: Exactly 50 is recorded externally, 150 stays outstanding

	l := generic.NewPaymentLedger(money(200))
	acct := accountWith(t, 0)

	out, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required:  money(200),
		Type:      generic.PaymentFull,
		Method:    generic.MethodPayFast,
		External:  money(50),
		UseCredit: true,
		At:        at,
	})
	require.NoError(t, err)

	assertMoney(t, 0, out.CreditUsed, "credit used")
	assertMoney(t, 50, out.ExternalPaid, "external paid")
	assertMoney(t, 150, out.Outstanding, "outstanding")
	assertMoney(t, 50, l.Paid, "paid")
	assert.Equal(t, generic.StatusPartial, l.Status)
}

func TestApplyPayment_FixedExternal_CreditGrew(t *testing.T) {
	// GIVEN: Appointment at 200, 50 charged externally, credit now 500
	// WHEN: Applying 200 with External 50 and credit
	// THEN: Credit covers only 150, external stays 50, 350 credit remains

	l := generic.NewPaymentLedger(money(200))
	acct := accountWith(t, 500)

	out, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required:  money(200),
		Type:      generic.PaymentFull,
		Method:    generic.MethodPayFast,
		External:  money(50),
		UseCredit: true,
		At:        at,
	})
	require.NoError(t, err)

	assertMoney(t, 150, out.CreditUsed, "credit used")
	assertMoney(t, 50, out.ExternalPaid, "external paid")
	assertMoney(t, 0, out.Outstanding, "outstanding")
	assertMoney(t, 350, acct.Balance, "credit balance")
	assert.Equal(t, generic.StatusFull, l.Status)

	fresh := generic.NewPaymentLedger(money(200))
	_, err = generic.ApplyPayment(&fresh, acct, generic.PaymentRequest{
		Required: money(10), Type: generic.PaymentBalance, External: money(20), Method: generic.MethodPayFast, At: at,
	})
	assert.ErrorIs(t, err, generic.ErrOverpayment)
	assertMoney(t, 0, fresh.Paid, "fresh paid")
}

func TestApplyPayment_RefundedLedger_Rejected(t *testing.T) {
	// GIVEN: Appointment at 200 with a 100 cash deposit refunded to credit
	// WHEN: Paying the balance with that credit
	// THEN: Rejected as AlreadyFinal, ledger and credit unchanged

	l := generic.NewPaymentLedger(money(200))
	acct := accountWith(t, 0)
	_, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required: money(100), Type: generic.PaymentPartial, Method: generic.MethodCash, At: at,
	})
	require.NoError(t, err)
	_, _, err = generic.RefundToCredit(&l, acct, money(100), "appt-1", at)
	require.NoError(t, err)

	_, err = generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required: l.Remaining(), Type: generic.PaymentBalance, Method: generic.MethodCash, UseCredit: true, At: at,
	})
	assert.ErrorIs(t, err, generic.ErrAlreadyCredited)
	assert.True(t, generic.IsAlreadyFinal(err))
	assertMoney(t, 100, l.Paid, "paid")
	assertMoney(t, 100, acct.Balance, "credit balance")
	assert.Len(t, l.Details, 2)
}

// =============================================================================
// REFUND TO CREDIT
// =============================================================================

func TestRefundToCredit_EffectivePaidZero_Once(t *testing.T) {
	// GIVEN: Appointment fully paid 100 in cash
	// WHEN: Refunding 100 to credit, then refunding again
	// THEN: Credit +100, effective paid 0, Paid unchanged, second call AlreadyFinal

	l := generic.NewPaymentLedger(money(100))
	acct := accountWith(t, 0)
	_, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required: money(100), Type: generic.PaymentFull, Method: generic.MethodCash, At: at,
	})
	require.NoError(t, err)

	detail, entry, err := generic.RefundToCredit(&l, acct, money(100), "appt-1", at)
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentCreditRefund, detail.Type)
	assert.Equal(t, generic.CreditIn, entry.Type)
	assertMoney(t, 100, acct.Balance, "credit balance")
	assertMoney(t, 0, l.EffectivePaid(), "effective paid")
	assertMoney(t, 100, l.Paid, "paid")
	assert.Equal(t, generic.StatusFull, l.Status)
	assert.True(t, l.CreditProcessed)

	_, _, err = generic.RefundToCredit(&l, acct, money(100), "appt-1", at)
	assert.ErrorIs(t, err, generic.ErrAlreadyCredited)
	assertMoney(t, 100, acct.Balance, "credit balance after retry")
	assert.True(t, acct.Reconciles())
}

func TestRefundToCredit_Validation(t *testing.T) {
	l := generic.NewPaymentLedger(money(100))
	acct := accountWith(t, 0)
	_, err := generic.ApplyPayment(&l, acct, generic.PaymentRequest{
		Required: money(40), Type: generic.PaymentPartial, Method: generic.MethodCash, At: at,
	})
	require.NoError(t, err)

	_, _, err = generic.RefundToCredit(&l, acct, money(0), "appt-1", at)
	assert.ErrorIs(t, err, generic.ErrNonPositiveAmount)

	_, _, err = generic.RefundToCredit(&l, acct, money(41), "appt-1", at)
	assert.ErrorIs(t, err, generic.ErrRefundExceedsPaid)

	assert.False(t, l.CreditProcessed)
	assertMoney(t, 0, acct.Balance, "credit balance")
}

// =============================================================================
// CREDIT ACCOUNT
// =============================================================================

func TestCreditAccount_DebitBeyondBalance(t *testing.T) {
	acct := accountWith(t, 30)

	_, err := acct.Debit(money(31), "appt-1", "too much", at)
	assert.ErrorIs(t, err, generic.ErrInsufficientCredit)
	assertMoney(t, 30, acct.Balance, "balance")
	assert.Len(t, acct.History, 1)
}

func TestCreditAccount_BalanceMatchesHistory(t *testing.T) {
	acct := accountWith(t, 0)
	_, err := acct.Credit(money(100), "a", "refund", at)
	require.NoError(t, err)
	_, err = acct.Debit(money(35), "b", "spent", at)
	require.NoError(t, err)
	_, err = acct.Credit(money(10), "c", "refund", at)
	require.NoError(t, err)

	assertMoney(t, 75, acct.Balance, "balance")
	assertMoney(t, 75, acct.HistoryTotal(), "history total")
	assert.True(t, acct.Reconciles())
}

// =============================================================================
// TRANSACTION DETAILS
// =============================================================================

func TestTransactionDetail_TagMethodPairing(t *testing.T) {
	_, err := generic.NewExternalPayment(money(10), generic.MethodCreditBalance, generic.PaymentFull, at)
	assert.ErrorIs(t, err, generic.ErrInvalidPaymentMethod)

	_, err = generic.NewExternalPayment(money(10), generic.MethodPayFast, generic.PaymentCredit, at)
	assert.ErrorIs(t, err, generic.ErrInvalidPaymentMethod)

	d, err := generic.NewExternalPayment(money(10), generic.MethodPayFast, generic.PaymentBalance, at)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
}

func TestParseMoney(t *testing.T) {
	m, err := generic.ParseMoney("150.50")
	require.NoError(t, err)
	assert.Equal(t, "150.50", m.Fixed())

	_, err = generic.ParseMoney("abc")
	assert.Error(t, err)
}
