/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types carry no
  JSON tags; these types are the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Envelopes, always {success, message, ...}

MONEY:
  Request amounts are decimal.Decimal so both 200 and "200.00" decode
  exactly. Response amounts are float64 for display.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/types.go: Domain entities
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type RegisterUserRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type SaveTreatmentRequest struct {
	ID              string          `json:"id,omitempty"`
	Name            string          `json:"name"`
	Speciality      string          `json:"speciality"`
	Practitioner    string          `json:"practitioner"`
	Fee             decimal.Decimal `json:"fee"`
	DurationMinutes int             `json:"durationMinutes"`
	Available       *bool           `json:"available,omitempty"`
}

type AvailabilityRequest struct {
	Available bool `json:"available"`
}

type CreateBookingRequest struct {
	UserID          string          `json:"userId"`
	TreatmentID     string          `json:"treatmentId"`
	Practitioner    string          `json:"practitioner"`
	Date            string          `json:"date"`
	Start           string          `json:"start"`
	DurationMinutes int             `json:"durationMinutes"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentType     string          `json:"paymentType"`
	UseCredit       bool            `json:"useCredit"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
}

type BalancePaymentRequest struct {
	PaymentMethod string `json:"paymentMethod"`
	UseCredit     bool   `json:"useCredit"`
}

type CheckoutRequest struct {
	PaymentType string `json:"paymentType"`
	UseCredit   bool   `json:"useCredit"`
}

type CancelRequest struct {
	ActorUserID string `json:"actorUserId,omitempty"`
}

type CreditRefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type GatewayConfirmRequest struct {
	AppointmentID string           `json:"appointmentId"`
	CorrelationID string           `json:"correlationId"`
	Success       bool             `json:"success"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type UserDTO struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Phone         string           `json:"phone"`
	Email         string           `json:"email,omitempty"`
	CreditBalance float64          `json:"creditBalance"`
	CreditHistory []CreditEntryDTO `json:"creditHistory"`
	CreatedAt     string           `json:"createdAt"`
}

type CreditEntryDTO struct {
	ID            string  `json:"id"`
	Amount        float64 `json:"amount"`
	Type          string  `json:"type"`
	AppointmentID string  `json:"appointmentId,omitempty"`
	At            string  `json:"at"`
	Description   string  `json:"description,omitempty"`
}

type TreatmentDTO struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Speciality      string  `json:"speciality"`
	Practitioner    string  `json:"practitioner"`
	Fee             float64 `json:"fee"`
	DurationMinutes int     `json:"durationMinutes"`
	Available       bool    `json:"available"`
}

type TransactionDetailDTO struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Method      string  `json:"method"`
	Type        string  `json:"type"`
	At          string  `json:"at"`
	Description string  `json:"description,omitempty"`
}

type PendingPaymentDTO struct {
	CorrelationID string  `json:"correlationId"`
	Amount        float64 `json:"amount"`
	Charge        float64 `json:"charge"`
	PaymentType   string  `json:"paymentType"`
	UseCredit     bool    `json:"useCredit"`
	CreatedAt     string  `json:"createdAt"`
}

type AppointmentDTO struct {
	ID                  string                 `json:"id"`
	BookingNumber       int64                  `json:"bookingNumber"`
	UserID              string                 `json:"userId"`
	TreatmentID         string                 `json:"treatmentId"`
	Practitioner        string                 `json:"practitioner"`
	Date                string                 `json:"date"`
	Start               string                 `json:"start"`
	End                 string                 `json:"end"`
	DurationMinutes     int                    `json:"durationMinutes"`
	PaymentType         string                 `json:"paymentType"`
	Amount              float64                `json:"amount"`
	PaidAmount          float64                `json:"paidAmount"`
	EffectivePaid       float64                `json:"effectivePaid"`
	PaymentStatus       string                 `json:"paymentStatus"`
	CreditProcessed     bool                   `json:"creditProcessed"`
	Cancelled           bool                   `json:"cancelled"`
	CancelledAtCheckout bool                   `json:"cancelledAtCheckout"`
	Completed           bool                   `json:"completed"`
	PendingPayment      *PendingPaymentDTO     `json:"pendingPayment,omitempty"`
	Details             []TransactionDetailDTO `json:"transactionDetails"`
	UserName            string                 `json:"userName"`
	UserPhone           string                 `json:"userPhone"`
	UserEmail           string                 `json:"userEmail,omitempty"`
	TreatmentName       string                 `json:"treatmentName"`
	Speciality          string                 `json:"speciality"`
	CreatedAt           string                 `json:"createdAt"`
}

type PaymentDTO struct {
	CreditUsed   float64 `json:"creditUsed"`
	ExternalPaid float64 `json:"externalPaid"`
	Outstanding  float64 `json:"outstanding"`
}

type CheckoutDTO struct {
	RedirectURL string            `json:"redirectUrl"`
	Fields      map[string]string `json:"fields"`
	Amount      float64           `json:"amount"`
}

// ResultResponse is the envelope every mutating endpoint returns.
type ResultResponse struct {
	Success       bool            `json:"success"`
	Message       string          `json:"message"`
	Appointment   *AppointmentDTO `json:"appointment,omitempty"`
	User          *UserDTO        `json:"user,omitempty"`
	CreditBalance *float64        `json:"creditBalance,omitempty"`
	Payment       *PaymentDTO     `json:"payment,omitempty"`
	Checkout      *CheckoutDTO    `json:"checkout,omitempty"`
}

type AvailabilityResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Available bool   `json:"available"`
	// ConflictStart and ConflictEnd describe the booking that blocks the slot.
	ConflictStart string `json:"conflictStart,omitempty"`
	ConflictEnd   string `json:"conflictEnd,omitempty"`
}

type AppointmentListResponse struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	Appointments []AppointmentDTO `json:"appointments"`
}

type TreatmentResponse struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Treatment *TreatmentDTO `json:"treatment,omitempty"`
}

type TreatmentListResponse struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Treatments []TreatmentDTO `json:"treatments"`
}

type UserResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	User    *UserDTO `json:"user,omitempty"`
}

type DashboardResponse struct {
	Success            bool               `json:"success"`
	Message            string             `json:"message"`
	Treatments         int                `json:"treatments"`
	Appointments       int                `json:"appointments"`
	Patients           int                `json:"patients"`
	LatestAppointments []AppointmentDTO   `json:"latestAppointments"`
	TotalEarnings      float64            `json:"totalEarnings"`
	TotalInvoiced      float64            `json:"totalInvoiced"`
	Outstanding        float64            `json:"outstanding"`
	CreditIssued       float64            `json:"creditIssued"`
	ByMethod           map[string]float64 `json:"byMethod"`
}

// MessageResponse carries only the envelope fields.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ScenarioListResponse struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Scenarios []ScenarioDTO `json:"scenarios"`
	Current   string        `json:"current,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toUserDTO(u booking.User) *UserDTO {
	history := make([]CreditEntryDTO, len(u.Credit.History))
	for i, e := range u.Credit.History {
		history[i] = CreditEntryDTO{
			ID:            e.ID,
			Amount:        e.Amount.Float64(),
			Type:          string(e.Type),
			AppointmentID: e.AppointmentID,
			At:            e.At.Format(time.RFC3339),
			Description:   e.Description,
		}
	}
	return &UserDTO{
		ID:            u.ID,
		Name:          u.Name,
		Phone:         u.Phone,
		Email:         u.Email,
		CreditBalance: u.Credit.Balance.Float64(),
		CreditHistory: history,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
	}
}

func toTreatmentDTO(t booking.Treatment) TreatmentDTO {
	return TreatmentDTO{
		ID:              t.ID,
		Name:            t.Name,
		Speciality:      t.Speciality,
		Practitioner:    t.Practitioner,
		Fee:             t.Fee.Float64(),
		DurationMinutes: t.DurationMinutes,
		Available:       t.Available,
	}
}

func toTreatmentDTOs(ts []booking.Treatment) []TreatmentDTO {
	out := make([]TreatmentDTO, len(ts))
	for i, t := range ts {
		out[i] = toTreatmentDTO(t)
	}
	return out
}

func toAppointmentDTO(a booking.Appointment) AppointmentDTO {
	details := make([]TransactionDetailDTO, len(a.Details))
	for i, d := range a.Details {
		details[i] = TransactionDetailDTO{
			ID:          d.ID,
			Amount:      d.Amount.Float64(),
			Method:      string(d.Method),
			Type:        string(d.Type),
			At:          d.At.Format(time.RFC3339),
			Description: d.Description,
		}
	}

	dto := AppointmentDTO{
		ID:                  a.ID,
		BookingNumber:       a.BookingNumber,
		UserID:              a.UserID,
		TreatmentID:         a.TreatmentID,
		Practitioner:        a.Practitioner,
		Date:                a.Date.String(),
		Start:               a.Slot.Start.String(),
		End:                 a.Slot.End().String(),
		DurationMinutes:     a.Slot.Duration,
		PaymentType:         string(a.PaymentType),
		Amount:              a.Amount.Float64(),
		PaidAmount:          a.Paid.Float64(),
		EffectivePaid:       a.EffectivePaid().Float64(),
		PaymentStatus:       string(a.Status),
		CreditProcessed:     a.CreditProcessed,
		Cancelled:           a.Cancelled,
		CancelledAtCheckout: a.CancelledAtCheckout,
		Completed:           a.Completed,
		Details:             details,
		UserName:            a.User.Name,
		UserPhone:           a.User.Phone,
		UserEmail:           a.User.Email,
		TreatmentName:       a.Treatment.Name,
		Speciality:          a.Treatment.Speciality,
		CreatedAt:           a.CreatedAt.Format(time.RFC3339),
	}
	if p := a.Pending; p != nil {
		dto.PendingPayment = &PendingPaymentDTO{
			CorrelationID: p.CorrelationID,
			Amount:        p.Amount.Float64(),
			Charge:        p.Charge.Float64(),
			PaymentType:   string(p.PaymentType),
			UseCredit:     p.UseCredit,
			CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		}
	}
	return dto
}

func toAppointmentDTOs(as []booking.Appointment) []AppointmentDTO {
	out := make([]AppointmentDTO, len(as))
	for i, a := range as {
		out[i] = toAppointmentDTO(a)
	}
	return out
}

func toResultResponse(res *booking.Result) ResultResponse {
	out := ResultResponse{Success: res.Success, Message: res.Message}
	if res.Appointment != nil {
		dto := toAppointmentDTO(*res.Appointment)
		out.Appointment = &dto
	}
	if res.User != nil {
		out.User = toUserDTO(*res.User)
	}
	if res.CreditBalance != nil {
		v := res.CreditBalance.Float64()
		out.CreditBalance = &v
	}
	if p := res.Payment; p != nil {
		out.Payment = &PaymentDTO{
			CreditUsed:   p.CreditUsed.Float64(),
			ExternalPaid: p.ExternalPaid.Float64(),
			Outstanding:  p.Outstanding.Float64(),
		}
	}
	if c := res.Checkout; c != nil {
		out.Checkout = &CheckoutDTO{RedirectURL: c.RedirectURL, Fields: c.Fields, Amount: c.Amount.Float64()}
	}
	return out
}

func toDashboardResponse(d *booking.Dashboard) DashboardResponse {
	out := DashboardResponse{
		Success:            d.Success,
		Message:            d.Message,
		Treatments:         d.Treatments,
		Appointments:       d.Appointments,
		Patients:           d.Patients,
		LatestAppointments: toAppointmentDTOs(d.LatestAppointments),
		TotalEarnings:      d.TotalEarnings.Float64(),
		TotalInvoiced:      d.TotalInvoiced.Float64(),
		Outstanding:        d.Outstanding.Float64(),
		CreditIssued:       d.CreditIssued.Float64(),
		ByMethod:           make(map[string]float64, len(d.ByMethod)),
	}
	for method, amount := range d.ByMethod {
		out.ByMethod[string(method)] = amount.Float64()
	}
	return out
}

func moneyPtr(d *decimal.Decimal) *generic.Money {
	if d == nil {
		return nil
	}
	m := generic.MoneyFromDecimal(*d)
	return &m
}
