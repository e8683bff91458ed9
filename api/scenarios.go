/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	clinic data. Every record is created through booking.Service, so the
	seeded state obeys the same rules as live traffic.

AVAILABLE SCENARIOS:

	clinic-basics:  Three treatments and two patients, no bookings
	busy-day:       clinic-basics plus tomorrow's bookings: paid in full,
	                deposit only, credit-funded, and a cancelled one
	                refunded to credit

HOW SCENARIOS WORK:
 1. Reset the store (clear all data, booking numbers keep counting)
 2. Create treatments
 3. Register patients
 4. Optionally book, pay, cancel and refund

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-day"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and store wiring
  - booking/service.go: Use cases the loaders call
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "clinic-basics",
		Name:        "Clinic Basics",
		Description: "Physio, dental and massage treatments with two registered patients",
	},
	{
		ID:          "busy-day",
		Name:        "Busy Day",
		Description: "Tomorrow's schedule: full payment, deposit only, credit-funded, cancelled and refunded",
	},
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ScenarioListResponse{
		Success:   true,
		Message:   fmt.Sprintf("%d scenarios", len(scenarios)),
		Scenarios: scenarios,
		Current:   h.currentScenario,
	})
}

// LoadScenario resets the store and loads a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		writeError(w, statusFor(err), "", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Scenario loaded: " + req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Store reset"})
}

// LoadScenarioByID resets the store and runs the named loader.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "clinic-basics":
		load = func(ctx context.Context) error {
			_, err := h.seedClinic(ctx)
			return err
		}
	case "busy-day":
		load = h.loadBusyDayScenario
	default:
		return generic.NewError(generic.ErrNotFound, "Unknown scenario: "+id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.Logger.Info("scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// clinic holds the ids created by seedClinic.
type clinic struct {
	physio, dental, massage booking.Treatment
	thandi, pieter          booking.User
}

func (h *Handler) seedClinic(ctx context.Context) (*clinic, error) {
	var c clinic
	treatments := []struct {
		dst        *booking.Treatment
		name       string
		speciality string
		who        string
		fee        int64
		mins       int
	}{
		{&c.physio, "Physiotherapy Session", "Physiotherapy", "dr-naidoo", 450, 45},
		{&c.dental, "Dental Check-up", "Dentistry", "dr-mokoena", 350, 30},
		{&c.massage, "Deep Tissue Massage", "Massage Therapy", "therapist-jacobs", 600, 60},
	}
	for _, t := range treatments {
		saved, err := h.Service.SaveTreatment(ctx, booking.Treatment{
			Name:            t.name,
			Speciality:      t.speciality,
			Practitioner:    t.who,
			Fee:             generic.NewMoneyFromInt(t.fee),
			DurationMinutes: t.mins,
			Available:       true,
		})
		if err != nil {
			return nil, err
		}
		*t.dst = *saved
	}

	users := []struct {
		dst                *booking.User
		name, phone, email string
	}{
		{&c.thandi, "Thandi Mokoena", "0821234567", "thandi@example.com"},
		{&c.pieter, "Pieter van Wyk", "0839876543", "pieter@example.com"},
	}
	for _, u := range users {
		res, err := h.Service.RegisterUser(ctx, booking.RegisterRequest{Name: u.name, Phone: u.phone, Email: u.email})
		if err != nil {
			return nil, err
		}
		*u.dst = *res.User
	}
	return &c, nil
}

func (h *Handler) loadBusyDayScenario(ctx context.Context) error {
	c, err := h.seedClinic(ctx)
	if err != nil {
		return err
	}
	day := generic.Today().AddDays(1).String()

	book := func(u booking.User, t booking.Treatment, start, paymentType, method string, useCredit bool) (*booking.Appointment, error) {
		res, err := h.Service.CreateBooking(ctx, booking.BookingRequest{
			UserID:          u.ID,
			TreatmentID:     t.ID,
			Practitioner:    t.Practitioner,
			Date:            day,
			Start:           start,
			DurationMinutes: t.DurationMinutes,
			Amount:          t.Fee,
			PaymentType:     paymentType,
			UseCredit:       useCredit,
			PaymentMethod:   method,
		})
		if err != nil {
			return nil, err
		}
		return res.Appointment, nil
	}

	// Paid in full at the desk.
	if _, err := book(c.thandi, c.physio, "09:00", "full", "speed_point", false); err != nil {
		return err
	}

	// Deposit only, balance due at the appointment.
	if _, err := book(c.pieter, c.dental, "10:00", "partial", "cash", false); err != nil {
		return err
	}

	// Booked and paid, then cancelled and refunded to credit.
	cancelled, err := book(c.pieter, c.massage, "11:00", "full", "cash", false)
	if err != nil {
		return err
	}
	if _, err := h.Service.CancelAppointment(ctx, booking.CancelRequest{AppointmentID: cancelled.ID}); err != nil {
		return err
	}
	if _, err := h.Service.IssueCreditRefund(ctx, booking.CreditRefundRequest{AppointmentID: cancelled.ID}); err != nil {
		return err
	}

	// The refunded credit funds the slot the cancellation freed.
	if _, err := book(c.pieter, c.massage, "11:00", "full", "", true); err != nil {
		return err
	}
	return nil
}
