/*
handlers_test.go - HTTP tests for the booking API

Tests for:
- Status mapping of error kinds
- Booking, balance payment, checkout and callback round trips
- Cancellation, credit refund and the dashboard
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/gateway"
	"github.com/warp/booking-engine/generic"
	"github.com/warp/booking-engine/logging"
	"github.com/warp/booking-engine/metrics"
	"github.com/warp/booking-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testDate = "2025-03-10"

type fakeVerifier struct {
	n   *gateway.Notification
	err error
}

func (v *fakeVerifier) Verify(string) (*gateway.Notification, error) {
	return v.n, v.err
}

type apiFixture struct {
	router    http.Handler
	handler   *Handler
	store     *memory.Memory
	verifier  *fakeVerifier
	userID    string
	treatment TreatmentDTO
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	store := memory.New()
	svc := booking.NewService(store,
		booking.WithGateway(gateway.New(gateway.Config{
			MerchantID:  "10000100",
			MerchantKey: "46f0cd694581a",
			Sandbox:     true,
			ReturnURL:   "https://clinic.example/verify",
			CancelURL:   "https://clinic.example/verify",
		})),
		booking.WithMetrics(metrics.NewBookingMetrics(reg)),
		booking.WithClock(func() time.Time { return now }),
	)

	f := &apiFixture{store: store, verifier: &fakeVerifier{}}
	f.handler = NewHandler(svc, store, f.verifier, logging.Nop())
	f.router = NewRouter(f.handler, RouterConfig{CORSOrigins: []string{"http://localhost:5173"}, Gatherer: reg})

	var user ResultResponse
	f.do(t, http.MethodPost, "/api/users", RegisterUserRequest{Name: "Thandi", Phone: "0821234567"}, http.StatusCreated, &user)
	f.userID = user.User.ID

	var tr TreatmentResponse
	f.do(t, http.MethodPost, "/api/treatments", map[string]any{
		"name": "Physio", "speciality": "Physiotherapy", "practitioner": "dr-naidoo",
		"fee": 200, "durationMinutes": 30,
	}, http.StatusCreated, &tr)
	f.treatment = *tr.Treatment
	return f
}

// do sends body as JSON, asserts the status and decodes into out.
func (f *apiFixture) do(t *testing.T, method, path string, body any, wantStatus int, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, wantStatus, rec.Code, rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (f *apiFixture) bookingReq(start, paymentType, method string) CreateBookingRequest {
	return CreateBookingRequest{
		UserID:          f.userID,
		TreatmentID:     f.treatment.ID,
		Date:            testDate,
		Start:           start,
		DurationMinutes: 30,
		Amount:          decimalOf(200),
		PaymentType:     paymentType,
		PaymentMethod:   method,
	}
}

func decimalOf(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func (f *apiFixture) mustBook(t *testing.T, req CreateBookingRequest) AppointmentDTO {
	t.Helper()
	var res ResultResponse
	f.do(t, http.MethodPost, "/api/appointments", req, http.StatusCreated, &res)
	require.True(t, res.Success, res.Message)
	return *res.Appointment
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(generic.ErrNonPositiveAmount))
	assert.Equal(t, http.StatusNotFound, statusFor(booking.ErrAppointmentNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(booking.ErrSlotUnavailable))
	assert.Equal(t, http.StatusConflict, statusFor(generic.ErrAlreadyPaid))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(booking.ErrGatewayNotConfigured))
	assert.Equal(t, http.StatusBadRequest, statusFor(gateway.ErrInvalidSignature))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	var health MessageResponse
	f.do(t, http.MethodGet, "/healthz", nil, http.StatusOK, &health)
	assert.True(t, health.Success)

	rec := f.do(t, http.MethodGet, "/metrics", nil, http.StatusOK, nil)
	assert.Contains(t, rec.Body.String(), `booking_operations_total{operation="register_user",outcome="success"} 1`)
}

// =============================================================================
// USERS & TREATMENTS
// =============================================================================

func TestRegisterUser_DuplicatePhone(t *testing.T) {
	f := newAPIFixture(t)

	var res ResultResponse
	f.do(t, http.MethodPost, "/api/users", RegisterUserRequest{Name: "Other", Phone: " 0821234567 "}, http.StatusConflict, &res)
	assert.False(t, res.Success)
	assert.Equal(t, booking.ErrDuplicatePhone.Message, res.Message)
}

func TestGetUser_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	var res MessageResponse
	f.do(t, http.MethodGet, "/api/users/missing", nil, http.StatusNotFound, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "User not found", res.Message)
}

func TestTreatmentAvailability_BlocksBooking(t *testing.T) {
	// GIVEN: A treatment switched off
	// WHEN: Booking it
	// THEN: 409, and switching it back on allows the booking

	f := newAPIFixture(t)
	path := "/api/treatments/" + f.treatment.ID + "/availability"

	var tr TreatmentResponse
	f.do(t, http.MethodPut, path, AvailabilityRequest{Available: false}, http.StatusOK, &tr)
	assert.False(t, tr.Treatment.Available)

	var res ResultResponse
	f.do(t, http.MethodPost, "/api/appointments", f.bookingReq("10:00", "full", "cash"), http.StatusConflict, &res)
	assert.Equal(t, booking.ErrTreatmentUnavailable.Message, res.Message)

	f.do(t, http.MethodPut, path, AvailabilityRequest{Available: true}, http.StatusOK, nil)
	f.mustBook(t, f.bookingReq("10:00", "full", "cash"))

	var list TreatmentListResponse
	f.do(t, http.MethodGet, "/api/treatments", nil, http.StatusOK, &list)
	assert.Len(t, list.Treatments, 1)
}

func TestDeleteTreatment(t *testing.T) {
	f := newAPIFixture(t)

	f.do(t, http.MethodDelete, "/api/treatments/"+f.treatment.ID, nil, http.StatusOK, nil)
	f.do(t, http.MethodDelete, "/api/treatments/"+f.treatment.ID, nil, http.StatusNotFound, nil)
}

// =============================================================================
// BOOKING
// =============================================================================

func TestCreateBooking_SlotTakenAndBuffer(t *testing.T) {
	// GIVEN: A paid 10:00-10:30 booking
	// WHEN: Booking 10:30 (inside the 15 minute buffer), then 10:45
	// THEN: 409 for 10:30, 201 for 10:45

	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "full", "cash"))
	assert.Equal(t, int64(1), appt.BookingNumber)
	assert.Equal(t, "full", appt.PaymentStatus)
	assert.Equal(t, 200.0, appt.PaidAmount)
	assert.Equal(t, "thandi", appt.UserName)
	assert.Equal(t, "Physio", appt.TreatmentName)
	assert.Equal(t, "10:30", appt.End)

	var res ResultResponse
	f.do(t, http.MethodPost, "/api/appointments", f.bookingReq("10:30", "full", "cash"), http.StatusConflict, &res)
	assert.False(t, res.Success)
	assert.Equal(t, booking.ErrSlotUnavailable.Message, res.Message)

	next := f.mustBook(t, f.bookingReq("10:45", "full", "cash"))
	assert.Equal(t, int64(2), next.BookingNumber)
}

func TestCreateBooking_InvalidInput(t *testing.T) {
	f := newAPIFixture(t)

	req := f.bookingReq("10:00", "deposit", "cash")
	var res ResultResponse
	f.do(t, http.MethodPost, "/api/appointments", req, http.StatusBadRequest, &res)
	assert.False(t, res.Success)

	f.do(t, http.MethodPost, "/api/appointments", f.bookingReq("07:30", "full", "cash"), http.StatusBadRequest, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/appointments", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckAvailability(t *testing.T) {
	f := newAPIFixture(t)
	f.mustBook(t, f.bookingReq("10:00", "full", "cash"))

	var res AvailabilityResponse
	f.do(t, http.MethodGet, "/api/availability?practitioner=dr-naidoo&date="+testDate+"&start=10:40&duration=30", nil, http.StatusOK, &res)
	assert.True(t, res.Success)
	assert.False(t, res.Available)
	assert.Equal(t, "10:00", res.ConflictStart)
	assert.Equal(t, "10:30", res.ConflictEnd)

	f.do(t, http.MethodGet, "/api/availability?practitioner=dr-naidoo&date="+testDate+"&start=11:00&duration=30", nil, http.StatusOK, &res)
	assert.True(t, res.Available)

	f.do(t, http.MethodGet, "/api/availability?practitioner=dr-naidoo&date="+testDate+"&start=11:00", nil, http.StatusBadRequest, nil)
	f.do(t, http.MethodGet, "/api/availability?practitioner=dr-naidoo&date=10-03-2025&start=11:00&duration=30", nil, http.StatusBadRequest, nil)
}

func TestListAppointments_Filters(t *testing.T) {
	f := newAPIFixture(t)
	first := f.mustBook(t, f.bookingReq("10:00", "full", "cash"))
	f.mustBook(t, f.bookingReq("11:00", "full", "cash"))
	f.do(t, http.MethodPost, "/api/appointments/"+first.ID+"/cancel", nil, http.StatusOK, nil)

	var list AppointmentListResponse
	f.do(t, http.MethodGet, "/api/appointments?date="+testDate, nil, http.StatusOK, &list)
	require.Len(t, list.Appointments, 1)
	assert.Equal(t, "11:00", list.Appointments[0].Start)

	f.do(t, http.MethodGet, "/api/users/"+f.userID+"/appointments?includeCancelled=true", nil, http.StatusOK, &list)
	require.Len(t, list.Appointments, 2)
	assert.Equal(t, "11:00", list.Appointments[0].Start, "newest first")

	f.do(t, http.MethodGet, "/api/appointments?includeCancelled=true&limit=1", nil, http.StatusOK, &list)
	assert.Len(t, list.Appointments, 1)

	f.do(t, http.MethodGet, "/api/appointments?date=tomorrow", nil, http.StatusBadRequest, nil)
	f.do(t, http.MethodGet, "/api/appointments?limit=-1", nil, http.StatusBadRequest, nil)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestBalancePayment_DepositThenBalance(t *testing.T) {
	// GIVEN: A partial booking paid in cash
	// WHEN: Paying the balance by speed point, then paying again
	// THEN: Status goes partial -> full, the repeat is 409 "Payment already completed"

	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "partial", "cash"))
	assert.Equal(t, "partial", appt.PaymentStatus)
	assert.Equal(t, 100.0, appt.PaidAmount)

	path := "/api/appointments/" + appt.ID + "/payments"
	var res ResultResponse
	f.do(t, http.MethodPost, path, BalancePaymentRequest{PaymentMethod: "speed_point"}, http.StatusOK, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "full", res.Appointment.PaymentStatus)
	assert.Equal(t, 200.0, res.Appointment.PaidAmount)
	require.Len(t, res.Appointment.Details, 2)
	assert.Equal(t, "balance", res.Appointment.Details[1].Type)

	f.do(t, http.MethodPost, path, BalancePaymentRequest{PaymentMethod: "cash"}, http.StatusConflict, &res)
	assert.Equal(t, "Payment already completed", res.Message)
}

func TestBalancePayment_GatewayMethodRejected(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "full", ""))

	f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/payments", BalancePaymentRequest{PaymentMethod: "payfast"}, http.StatusBadRequest, nil)
	f.do(t, http.MethodPost, "/api/appointments/missing/payments", BalancePaymentRequest{PaymentMethod: "cash"}, http.StatusNotFound, nil)
}

func TestCheckoutAndNotify(t *testing.T) {
	// GIVEN: An unpaid booking
	// WHEN: Starting a checkout and receiving a COMPLETE callback
	// THEN: The form is signed, the appointment is paid, a replay is rejected in the body

	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "full", ""))
	assert.Equal(t, "none", appt.PaymentStatus)

	var checkout ResultResponse
	f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/checkout", CheckoutRequest{PaymentType: "full"}, http.StatusOK, &checkout)
	require.NotNil(t, checkout.Checkout)
	require.NotNil(t, checkout.Appointment.PendingPayment)
	assert.Equal(t, "200.00", checkout.Checkout.Fields["amount"])
	assert.Equal(t, appt.ID, checkout.Checkout.Fields["custom_str1"])
	assert.Equal(t, "Physio - Booking #1", checkout.Checkout.Fields["item_name"])
	correlationID := checkout.Checkout.Fields["m_payment_id"]
	assert.Equal(t, checkout.Appointment.PendingPayment.CorrelationID, correlationID)

	amount := generic.NewMoneyFromInt(200)
	f.verifier.n = &gateway.Notification{AppointmentID: appt.ID, CorrelationID: correlationID, Success: true, Status: "COMPLETE", Amount: &amount}

	var res ResultResponse
	f.do(t, http.MethodPost, "/api/gateway/notify", nil, http.StatusOK, &res)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "full", res.Appointment.PaymentStatus)
	assert.Nil(t, res.Appointment.PendingPayment)
	require.Len(t, res.Appointment.Details, 1)
	assert.Equal(t, "payfast", res.Appointment.Details[0].Method)

	f.do(t, http.MethodPost, "/api/gateway/notify", nil, http.StatusOK, &res)
	assert.False(t, res.Success, "replay finds no pending payment")
	assert.Equal(t, booking.ErrNoPendingPayment.Message, res.Message)
}

func TestNotify_Rejected(t *testing.T) {
	f := newAPIFixture(t)

	f.verifier.err = gateway.ErrInvalidSignature
	var res MessageResponse
	f.do(t, http.MethodPost, "/api/gateway/notify", nil, http.StatusBadRequest, &res)
	assert.False(t, res.Success)

	f.handler.Verifier = nil
	f.do(t, http.MethodPost, "/api/gateway/notify", nil, http.StatusServiceUnavailable, nil)
}

func TestGatewayConfirm_FailureCancelsUnpaid(t *testing.T) {
	// GIVEN: An unpaid booking with a checkout in flight
	// WHEN: The return page reports failure
	// THEN: The appointment is cancelled at checkout and the slot is free

	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "full", ""))

	var checkout ResultResponse
	f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/checkout", CheckoutRequest{PaymentType: "full"}, http.StatusOK, &checkout)

	var res ResultResponse
	f.do(t, http.MethodPost, "/api/gateway/confirm", GatewayConfirmRequest{
		AppointmentID: appt.ID,
		CorrelationID: checkout.Appointment.PendingPayment.CorrelationID,
		Success:       false,
	}, http.StatusOK, &res)
	assert.True(t, res.Appointment.Cancelled)
	assert.True(t, res.Appointment.CancelledAtCheckout)

	f.mustBook(t, f.bookingReq("10:00", "full", "cash"))

	f.do(t, http.MethodPost, "/api/gateway/confirm", GatewayConfirmRequest{
		AppointmentID: appt.ID,
		CorrelationID: "stale",
		Success:       true,
	}, http.StatusConflict, &res)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestCancelRefundAndCredit(t *testing.T) {
	// GIVEN: A booking paid in cash
	// WHEN: A stranger cancels, the owner cancels twice, then a refund twice
	// THEN: 400, 200, 409; refund credits 200 once

	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "full", "cash"))
	base := "/api/appointments/" + appt.ID

	f.do(t, http.MethodPost, base+"/cancel", CancelRequest{ActorUserID: "someone-else"}, http.StatusBadRequest, nil)
	f.do(t, http.MethodPost, base+"/cancel", CancelRequest{ActorUserID: f.userID}, http.StatusOK, nil)
	f.do(t, http.MethodPost, base+"/cancel", nil, http.StatusConflict, nil)

	var res ResultResponse
	f.do(t, http.MethodPost, base+"/credit-refund", map[string]any{"amount": "150"}, http.StatusOK, &res)
	require.NotNil(t, res.CreditBalance)
	assert.Equal(t, 150.0, *res.CreditBalance)
	assert.True(t, res.Appointment.CreditProcessed)
	assert.Equal(t, 0.0, res.Appointment.EffectivePaid)

	f.do(t, http.MethodPost, base+"/credit-refund", nil, http.StatusConflict, &res)
	assert.Equal(t, generic.ErrAlreadyCredited.Message, res.Message)

	var user UserResponse
	f.do(t, http.MethodGet, "/api/users/"+f.userID, nil, http.StatusOK, &user)
	assert.Equal(t, 150.0, user.User.CreditBalance)
	require.Len(t, user.User.CreditHistory, 1)
	assert.Equal(t, appt.ID, user.User.CreditHistory[0].AppointmentID)
}

func TestCompleteAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "full", "cash"))
	base := "/api/appointments/" + appt.ID

	var res ResultResponse
	f.do(t, http.MethodPost, base+"/complete", nil, http.StatusOK, &res)
	assert.True(t, res.Appointment.Completed)
	f.do(t, http.MethodPost, base+"/complete", nil, http.StatusConflict, nil)

	f.do(t, http.MethodDelete, base, nil, http.StatusOK, nil)
	f.do(t, http.MethodGet, base, nil, http.StatusNotFound, nil)
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestDashboard(t *testing.T) {
	f := newAPIFixture(t)
	f.mustBook(t, f.bookingReq("10:00", "full", "cash"))
	f.mustBook(t, f.bookingReq("11:00", "partial", "speed_point"))

	var d DashboardResponse
	f.do(t, http.MethodGet, "/api/dashboard", nil, http.StatusOK, &d)
	assert.True(t, d.Success)
	assert.Equal(t, 1, d.Treatments)
	assert.Equal(t, 2, d.Appointments)
	assert.Equal(t, 1, d.Patients)
	assert.Equal(t, 300.0, d.TotalEarnings)
	assert.Equal(t, 400.0, d.TotalInvoiced)
	assert.Equal(t, 100.0, d.Outstanding)
	assert.Equal(t, 200.0, d.ByMethod["cash"])
	assert.Equal(t, 100.0, d.ByMethod["speed_point"])
	require.Len(t, d.LatestAppointments, 2)
	assert.Equal(t, "11:00", d.LatestAppointments[0].Start)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/appointments", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPendingPaymentSweeper_RunNow(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.mustBook(t, f.bookingReq("10:00", "full", ""))
	f.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/checkout", CheckoutRequest{PaymentType: "full"}, http.StatusOK, nil)

	sweeper := NewPendingPaymentSweeper(f.handler.Service, logging.Nop())
	sweeper.TTL = 0
	assert.Equal(t, 0, sweeper.RunNow(context.Background()), "not older than the cutoff at the same instant")

	sweeper.TTL = -time.Minute
	assert.Equal(t, 1, sweeper.RunNow(context.Background()))

	var res ResultResponse
	f.do(t, http.MethodGet, "/api/appointments/"+appt.ID, nil, http.StatusOK, &res)
	assert.Nil(t, res.Appointment.PendingPayment)
	assert.False(t, res.Appointment.Cancelled, "expiry never cancels")
}
