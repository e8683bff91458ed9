// Package memory provides an in-memory booking.Store for tests and dev.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/generic"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps every record in maps. Reads return copies.
type Memory struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	users        map[string]booking.User
	treatments   map[string]booking.Treatment
	appointments map[string]booking.Appointment
	counter      int64
}

func newState() state {
	return state{
		users:        make(map[string]booking.User),
		treatments:   make(map[string]booking.Treatment),
		appointments: make(map[string]booking.Appointment),
	}
}

func New() *Memory {
	return &Memory{state: newState()}
}

// Reset drops every record but keeps the booking counter.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter := m.state.counter
	m.state = newState()
	m.state.counter = counter
	return nil
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole unit of work, so transactions are
// serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s state) clone() state {
	c := state{
		users:        make(map[string]booking.User, len(s.users)),
		treatments:   make(map[string]booking.Treatment, len(s.treatments)),
		appointments: make(map[string]booking.Appointment, len(s.appointments)),
		counter:      s.counter,
	}
	for k, v := range s.users {
		c.users[k] = cloneUser(v)
	}
	for k, v := range s.treatments {
		c.treatments[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v.Clone()
	}
	return c
}

func cloneUser(u booking.User) booking.User {
	u.Credit.History = append([]generic.CreditEntry(nil), u.Credit.History...)
	return u
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================
// Each call outside WithTx is its own unit of work.

func (m *Memory) read(fn func(v *view)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&view{s: &m.state})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{s: &m.state})
}

func (m *Memory) GetUser(ctx context.Context, id string) (u *booking.User, err error) {
	m.read(func(v *view) { u, err = v.GetUser(ctx, id) })
	return
}

func (m *Memory) FindUserByPhone(ctx context.Context, phone string) (u *booking.User, err error) {
	m.read(func(v *view) { u, err = v.FindUserByPhone(ctx, phone) })
	return
}

func (m *Memory) CreateUser(ctx context.Context, u booking.User) error {
	return m.write(func(v *view) error { return v.CreateUser(ctx, u) })
}

func (m *Memory) ListUsers(ctx context.Context) (out []booking.User, err error) {
	m.read(func(v *view) { out, err = v.ListUsers(ctx) })
	return
}

func (m *Memory) SaveCredit(ctx context.Context, userID string, balance generic.Money, entries []generic.CreditEntry) error {
	return m.write(func(v *view) error { return v.SaveCredit(ctx, userID, balance, entries) })
}

func (m *Memory) SaveTreatment(ctx context.Context, t booking.Treatment) error {
	return m.write(func(v *view) error { return v.SaveTreatment(ctx, t) })
}

func (m *Memory) GetTreatment(ctx context.Context, id string) (t *booking.Treatment, err error) {
	m.read(func(v *view) { t, err = v.GetTreatment(ctx, id) })
	return
}

func (m *Memory) ListTreatments(ctx context.Context) (out []booking.Treatment, err error) {
	m.read(func(v *view) { out, err = v.ListTreatments(ctx) })
	return
}

func (m *Memory) DeleteTreatment(ctx context.Context, id string) error {
	return m.write(func(v *view) error { return v.DeleteTreatment(ctx, id) })
}

func (m *Memory) NextBookingNumber(ctx context.Context) (n int64, err error) {
	err = m.write(func(v *view) error {
		n, err = v.NextBookingNumber(ctx)
		return err
	})
	return
}

func (m *Memory) CreateAppointment(ctx context.Context, a booking.Appointment) error {
	return m.write(func(v *view) error { return v.CreateAppointment(ctx, a) })
}

func (m *Memory) GetAppointment(ctx context.Context, id string) (a *booking.Appointment, err error) {
	m.read(func(v *view) { a, err = v.GetAppointment(ctx, id) })
	return
}

func (m *Memory) UpdateAppointment(ctx context.Context, a booking.Appointment) error {
	return m.write(func(v *view) error { return v.UpdateAppointment(ctx, a) })
}

func (m *Memory) AppendDetails(ctx context.Context, appointmentID string, details []generic.TransactionDetail) error {
	return m.write(func(v *view) error { return v.AppendDetails(ctx, appointmentID, details) })
}

func (m *Memory) DeleteAppointment(ctx context.Context, id string) error {
	return m.write(func(v *view) error { return v.DeleteAppointment(ctx, id) })
}

func (m *Memory) ListAppointments(ctx context.Context, filter booking.AppointmentFilter) (out []booking.Appointment, err error) {
	m.read(func(v *view) { out, err = v.ListAppointments(ctx, filter) })
	return
}

func (m *Memory) BookedSlots(ctx context.Context, practitioner string, day generic.Day) (out []generic.Slot, err error) {
	m.read(func(v *view) { out, err = v.BookedSlots(ctx, practitioner, day) })
	return
}

func (m *Memory) StalePendingPayments(ctx context.Context, before time.Time) (out []booking.Appointment, err error) {
	m.read(func(v *view) { out, err = v.StalePendingPayments(ctx, before) })
	return
}

// =============================================================================
// VIEW - Repository over state; the caller holds the lock
// =============================================================================

type view struct {
	s *state
}

func (v *view) GetUser(_ context.Context, id string) (*booking.User, error) {
	u, ok := v.s.users[id]
	if !ok {
		return nil, nil
	}
	c := cloneUser(u)
	return &c, nil
}

func (v *view) FindUserByPhone(_ context.Context, phone string) (*booking.User, error) {
	for _, u := range v.s.users {
		if u.Phone == phone {
			c := cloneUser(u)
			return &c, nil
		}
	}
	return nil, nil
}

func (v *view) CreateUser(ctx context.Context, u booking.User) error {
	existing, _ := v.FindUserByPhone(ctx, u.Phone)
	if existing != nil {
		return booking.ErrDuplicatePhone
	}
	v.s.users[u.ID] = cloneUser(u)
	return nil
}

func (v *view) ListUsers(_ context.Context) ([]booking.User, error) {
	out := make([]booking.User, 0, len(v.s.users))
	for _, u := range v.s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) SaveCredit(_ context.Context, userID string, balance generic.Money, entries []generic.CreditEntry) error {
	u, ok := v.s.users[userID]
	if !ok {
		return booking.ErrUserNotFound
	}
	u.Credit.Balance = balance
	u.Credit.History = append(append([]generic.CreditEntry(nil), u.Credit.History...), entries...)
	v.s.users[userID] = u
	return nil
}

func (v *view) SaveTreatment(_ context.Context, t booking.Treatment) error {
	v.s.treatments[t.ID] = t
	return nil
}

func (v *view) GetTreatment(_ context.Context, id string) (*booking.Treatment, error) {
	t, ok := v.s.treatments[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (v *view) ListTreatments(_ context.Context) ([]booking.Treatment, error) {
	out := make([]booking.Treatment, 0, len(v.s.treatments))
	for _, t := range v.s.treatments {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *view) DeleteTreatment(_ context.Context, id string) error {
	delete(v.s.treatments, id)
	return nil
}

func (v *view) NextBookingNumber(_ context.Context) (int64, error) {
	v.s.counter++
	return v.s.counter, nil
}

func (v *view) CreateAppointment(_ context.Context, a booking.Appointment) error {
	v.s.appointments[a.ID] = a.Clone()
	return nil
}

func (v *view) GetAppointment(_ context.Context, id string) (*booking.Appointment, error) {
	a, ok := v.s.appointments[id]
	if !ok {
		return nil, nil
	}
	c := a.Clone()
	return &c, nil
}

// UpdateAppointment keeps the stored details; only AppendDetails adds to them.
func (v *view) UpdateAppointment(_ context.Context, a booking.Appointment) error {
	stored, ok := v.s.appointments[a.ID]
	if !ok {
		return booking.ErrAppointmentNotFound
	}
	c := a.Clone()
	c.Details = stored.Details
	v.s.appointments[a.ID] = c
	return nil
}

func (v *view) AppendDetails(_ context.Context, appointmentID string, details []generic.TransactionDetail) error {
	a, ok := v.s.appointments[appointmentID]
	if !ok {
		return booking.ErrAppointmentNotFound
	}
	a.Details = append(append(generic.Details(nil), a.Details...), details...)
	v.s.appointments[appointmentID] = a
	return nil
}

func (v *view) DeleteAppointment(_ context.Context, id string) error {
	delete(v.s.appointments, id)
	return nil
}

func (v *view) ListAppointments(_ context.Context, filter booking.AppointmentFilter) ([]booking.Appointment, error) {
	var out []booking.Appointment
	for _, a := range v.s.appointments {
		if filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return booking.Newer(out[i], out[j]) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v *view) BookedSlots(_ context.Context, practitioner string, day generic.Day) ([]generic.Slot, error) {
	var out []generic.Slot
	for _, a := range v.s.appointments {
		if a.Active() && a.Practitioner == practitioner && a.Date.Equal(day) {
			out = append(out, a.Slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (v *view) StalePendingPayments(_ context.Context, before time.Time) ([]booking.Appointment, error) {
	var out []booking.Appointment
	for _, a := range v.s.appointments {
		if a.Pending != nil && a.Pending.CreatedAt.Before(before) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}
