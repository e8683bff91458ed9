/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the booking Service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to the Service.

ENDPOINTS:
  Users:
    POST   /api/users                          Register user
    GET    /api/users/{id}                     User with credit history
    GET    /api/users/{id}/appointments        User's appointments

  Treatments:
    GET    /api/treatments                     List treatments
    POST   /api/treatments                     Create or replace treatment
    PUT    /api/treatments/{id}/availability   Toggle bookable
    DELETE /api/treatments/{id}                Delete treatment

  Appointments:
    GET    /api/availability                   Slot check
    GET    /api/appointments                   List (filter via query)
    POST   /api/appointments                   Create booking
    GET    /api/appointments/{id}              Appointment snapshot
    POST   /api/appointments/{id}/payments     Balance payment at the desk
    POST   /api/appointments/{id}/checkout     Start a gateway payment
    POST   /api/appointments/{id}/cancel       Cancel
    POST   /api/appointments/{id}/complete     Complete
    POST   /api/appointments/{id}/credit-refund Refund paid money to credit
    DELETE /api/appointments/{id}              Hard delete

  Gateway:
    POST   /api/gateway/notify                 Signed form callback
    POST   /api/gateway/confirm                JSON confirmation

  Admin:
    GET    /api/dashboard                      Dashboard summary

ERROR HANDLING:
  Errors are returned as {success:false, message} with a status derived from
  the error kind:
  - 400: InvalidInput
  - 404: NotFound
  - 409: Conflict, AlreadyFinal
  - 503: Gateway not configured
  - 500: Internal errors

SECURITY NOTE:
  No authentication. CancelRequest.actorUserId is trusted as sent.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo seed and reset
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/gateway"
	"github.com/warp/booking-engine/generic"
	"github.com/warp/booking-engine/logging"
)

// maxNotifyBody bounds the gateway callback body.
const maxNotifyBody = 64 << 10

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears every record. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Pinger is implemented by stores with an external connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NotifyVerifier checks a gateway callback body and decodes it.
type NotifyVerifier interface {
	Verify(body string) (*gateway.Notification, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *booking.Service
	Store   Resetter
	// Verifier is nil when the hosted gateway is not configured.
	Verifier NotifyVerifier
	Logger   *logging.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler. verifier may be nil.
func NewHandler(svc *booking.Service, store Resetter, verifier NotifyVerifier, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{Service: svc, Store: store, Verifier: verifier, Logger: logger}
}

// Healthz reports whether the store is reachable.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "ok"})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// RegisterUser creates a user with an empty credit balance.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.RegisterUser(r.Context(), booking.RegisterRequest{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	writeResult(w, http.StatusCreated, res, err)
}

// GetUser returns a user with credit history.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Success: true, Message: "User found", User: toUserDTO(*u)})
}

// ListUserAppointments returns one user's appointments, newest first.
func (h *Handler) ListUserAppointments(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}
	filter.UserID = chi.URLParam(r, "id")
	h.listAppointments(w, r, filter)
}

// =============================================================================
// TREATMENT HANDLERS
// =============================================================================

func (h *Handler) ListTreatments(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Service.ListTreatments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list treatments", err)
		return
	}
	writeJSON(w, http.StatusOK, TreatmentListResponse{
		Success:    true,
		Message:    strconv.Itoa(len(ts)) + " treatments",
		Treatments: toTreatmentDTOs(ts),
	})
}

// SaveTreatment creates a treatment, or replaces it when id is given.
// New treatments are available unless the body says otherwise.
func (h *Handler) SaveTreatment(w http.ResponseWriter, r *http.Request) {
	var req SaveTreatmentRequest
	if !decode(w, r, &req) {
		return
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}
	t, err := h.Service.SaveTreatment(r.Context(), booking.Treatment{
		ID:              req.ID,
		Name:            req.Name,
		Speciality:      req.Speciality,
		Practitioner:    req.Practitioner,
		Fee:             generic.MoneyFromDecimal(req.Fee),
		DurationMinutes: req.DurationMinutes,
		Available:       available,
	})
	if err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	dto := toTreatmentDTO(*t)
	writeJSON(w, http.StatusCreated, TreatmentResponse{Success: true, Message: "Treatment saved", Treatment: &dto})
}

func (h *Handler) SetTreatmentAvailability(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Service.SetTreatmentAvailability(r.Context(), chi.URLParam(r, "id"), req.Available)
	if err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	dto := toTreatmentDTO(*t)
	writeJSON(w, http.StatusOK, TreatmentResponse{Success: true, Message: "Treatment updated", Treatment: &dto})
}

func (h *Handler) DeleteTreatment(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteTreatment(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Treatment deleted"})
}

// =============================================================================
// APPOINTMENT HANDLERS
// =============================================================================

// CheckAvailability reads practitioner, date, start and duration from the query.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duration, err := strconv.Atoi(q.Get("duration"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "duration must be a number of minutes", err)
		return
	}
	res, err := h.Service.CheckAvailability(r.Context(), booking.AvailabilityQuery{
		Practitioner:    q.Get("practitioner"),
		Date:            q.Get("date"),
		Start:           q.Get("start"),
		DurationMinutes: duration,
	})
	out := AvailabilityResponse{Success: res.Success, Message: res.Message, Available: res.Available}
	if res.Conflict != nil {
		out.ConflictStart = res.Conflict.Start.String()
		out.ConflictEnd = res.Conflict.End().String()
	}
	if err != nil {
		writeJSON(w, statusFor(err), out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAppointments accepts userId, practitioner, date, includeCancelled, limit.
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err)
		return
	}
	h.listAppointments(w, r, filter)
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request, filter booking.AppointmentFilter) {
	res, err := h.Service.ListAppointments(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	writeJSON(w, http.StatusOK, AppointmentListResponse{
		Success:      true,
		Message:      res.Message,
		Appointments: toAppointmentDTOs(res.Appointments),
	})
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.CreateBooking(r.Context(), booking.BookingRequest{
		UserID:          req.UserID,
		TreatmentID:     req.TreatmentID,
		Practitioner:    req.Practitioner,
		Date:            req.Date,
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Amount:          generic.MoneyFromDecimal(req.Amount),
		PaymentType:     req.PaymentType,
		UseCredit:       req.UseCredit,
		PaymentMethod:   req.PaymentMethod,
	})
	writeResult(w, http.StatusCreated, res, err)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAppointment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	writeResult(w, http.StatusOK, &booking.Result{Success: true, Message: "Appointment found", Appointment: a}, nil)
}

func (h *Handler) ApplyBalancePayment(w http.ResponseWriter, r *http.Request) {
	var req BalancePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.ApplyBalancePayment(r.Context(), booking.BalancePaymentRequest{
		AppointmentID: chi.URLParam(r, "id"),
		PaymentMethod: req.PaymentMethod,
		UseCredit:     req.UseCredit,
	})
	writeResult(w, http.StatusOK, res, err)
}

func (h *Handler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.InitiateGatewayPayment(r.Context(), booking.GatewayPaymentRequest{
		AppointmentID: chi.URLParam(r, "id"),
		PaymentType:   req.PaymentType,
		UseCredit:     req.UseCredit,
	})
	writeResult(w, http.StatusOK, res, err)
}

// CancelAppointment accepts an optional body; an empty one is an admin cancel.
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Service.CancelAppointment(r.Context(), booking.CancelRequest{
		AppointmentID: chi.URLParam(r, "id"),
		ActorUserID:   req.ActorUserID,
	})
	writeResult(w, http.StatusOK, res, err)
}

func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.CompleteAppointment(r.Context(), chi.URLParam(r, "id"))
	writeResult(w, http.StatusOK, res, err)
}

// IssueCreditRefund refunds the given amount, or everything paid when omitted.
func (h *Handler) IssueCreditRefund(w http.ResponseWriter, r *http.Request) {
	var req CreditRefundRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Service.IssueCreditRefund(r.Context(), booking.CreditRefundRequest{
		AppointmentID: chi.URLParam(r, "id"),
		Amount:        moneyPtr(req.Amount),
	})
	writeResult(w, http.StatusOK, res, err)
}

func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteAppointment(r.Context(), chi.URLParam(r, "id"))
	writeResult(w, http.StatusOK, res, err)
}

// =============================================================================
// GATEWAY HANDLERS
// =============================================================================

// GatewayNotify handles the gateway's server-to-server callback. Once the
// signature checks out, domain rejections still answer 200 so the gateway
// stops retrying; only internal errors answer 500.
func (h *Handler) GatewayNotify(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil {
		writeError(w, statusFor(booking.ErrGatewayNotConfigured), "", booking.ErrGatewayNotConfigured)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	n, err := h.Verifier.Verify(string(body))
	if err != nil {
		h.Logger.Warn("gateway notify rejected", "error", err, "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "", err)
		return
	}

	res, err := h.Service.ConfirmGatewayPayment(r.Context(), n.Confirmation())
	if err != nil {
		h.Logger.Warn("gateway notify not applied",
			"appointment_id", n.AppointmentID, "correlation_id", n.CorrelationID, "error", err)
		if !generic.IsClientError(err) {
			writeError(w, http.StatusInternalServerError, "", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toResultResponse(res))
}

// GatewayConfirm is the JSON form of the callback, used by the return page.
func (h *Handler) GatewayConfirm(w http.ResponseWriter, r *http.Request) {
	var req GatewayConfirmRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.ConfirmGatewayPayment(r.Context(), booking.GatewayConfirmation{
		AppointmentID: req.AppointmentID,
		CorrelationID: req.CorrelationID,
		Success:       req.Success,
		GatewayAmount: moneyPtr(req.Amount),
	})
	writeResult(w, http.StatusOK, res, err)
}

// =============================================================================
// DASHBOARD
// =============================================================================

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.GetDashboardSummary(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(d))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseFilter(r *http.Request) (booking.AppointmentFilter, error) {
	q := r.URL.Query()
	filter := booking.AppointmentFilter{
		UserID:       q.Get("userId"),
		Practitioner: q.Get("practitioner"),
	}
	if s := q.Get("date"); s != "" {
		day, err := generic.ParseDay(s)
		if err != nil {
			return filter, err
		}
		filter.Date = &day
	}
	if s := q.Get("includeCancelled"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return filter, generic.NewError(generic.ErrInvalidInput, "includeCancelled must be true or false")
		}
		filter.IncludeCancelled = v
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, generic.NewError(generic.ErrInvalidInput, "limit must be a non-negative number")
		}
		filter.Limit = n
	}
	return filter, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
	return false
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConflict), errors.Is(err, generic.ErrAlreadyFinal):
		return http.StatusConflict
	case errors.Is(err, booking.ErrGatewayNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrInvalidSignature), errors.Is(err, gateway.ErrMalformedNotify):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes a Service result, choosing the status from err.
func writeResult(w http.ResponseWriter, okStatus int, res *booking.Result, err error) {
	if err != nil {
		status := statusFor(err)
		if res == nil || status == http.StatusInternalServerError {
			writeError(w, status, "", err)
			return
		}
		writeJSON(w, status, toResultResponse(res))
		return
	}
	writeJSON(w, okStatus, toResultResponse(res))
}

// writeError writes {success:false, message}. Internal errors keep their
// detail out of the body.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	if message == "" {
		message = http.StatusText(status)
		if err != nil && status < http.StatusInternalServerError {
			message = err.Error()
		}
	} else if err != nil && status < http.StatusInternalServerError && !strings.Contains(message, err.Error()) {
		message = message + ": " + err.Error()
	}
	writeJSON(w, status, MessageResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
