package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/warp/booking-engine/generic"
)

// =============================================================================
// USERS
// =============================================================================

type RegisterRequest struct {
	Name  string
	Phone string
	Email string
}

// normalizePhone is the form phones are stored and compared in.
func normalizePhone(phone string) string {
	return strings.ToLower(strings.TrimSpace(phone))
}

// RegisterUser creates a user with an empty credit account.
func (s *Service) RegisterUser(ctx context.Context, req RegisterRequest) (res *Result, err error) {
	ctx, done := s.observe(ctx, "register_user")
	defer func() { res = conclude(done, res, err) }()

	name := strings.ToLower(strings.TrimSpace(req.Name))
	phone := normalizePhone(req.Phone)
	if name == "" {
		return nil, missingField("name")
	}
	if phone == "" {
		return nil, missingField("phone")
	}

	user := User{
		ID:        uuid.NewString(),
		Name:      name,
		Phone:     phone,
		Email:     strings.TrimSpace(req.Email),
		Credit:    generic.CreditAccount{Balance: generic.Zero()},
		CreatedAt: s.now(),
	}
	err = s.store.WithTx(ctx, func(repo Repository) error {
		existing, err := repo.FindUserByPhone(ctx, phone)
		if err != nil {
			return fmt.Errorf("find user by phone: %w", err)
		}
		if existing != nil {
			return ErrDuplicatePhone
		}
		return repo.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return &Result{Success: true, Message: "User registered", User: &user, CreditBalance: &user.Credit.Balance}, nil
}

// GetUser returns the user with its full credit history.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return loadUser(ctx, s.store, id)
}

// =============================================================================
// TREATMENTS
// =============================================================================

// SaveTreatment creates or replaces a treatment. An empty ID creates one.
func (s *Service) SaveTreatment(ctx context.Context, t Treatment) (*Treatment, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, missingField("name")
	}
	if t.Fee.IsNegative() {
		return nil, generic.ErrNonPositiveAmount
	}
	if t.DurationMinutes < 0 {
		return nil, generic.ErrInvalidDuration
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if err := s.store.SaveTreatment(ctx, t); err != nil {
		return nil, fmt.Errorf("save treatment: %w", err)
	}
	return &t, nil
}

func (s *Service) GetTreatment(ctx context.Context, id string) (*Treatment, error) {
	t, err := s.store.GetTreatment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load treatment: %w", err)
	}
	if t == nil {
		return nil, ErrTreatmentNotFound
	}
	return t, nil
}

func (s *Service) ListTreatments(ctx context.Context) ([]Treatment, error) {
	return s.store.ListTreatments(ctx)
}

// SetTreatmentAvailability toggles whether new bookings may use t.
// Existing appointments are unaffected.
func (s *Service) SetTreatmentAvailability(ctx context.Context, id string, available bool) (*Treatment, error) {
	var out Treatment
	err := s.store.WithTx(ctx, func(repo Repository) error {
		t, err := repo.GetTreatment(ctx, id)
		if err != nil {
			return fmt.Errorf("load treatment: %w", err)
		}
		if t == nil {
			return ErrTreatmentNotFound
		}
		t.Available = available
		out = *t
		return repo.SaveTreatment(ctx, *t)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) DeleteTreatment(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(repo Repository) error {
		t, err := repo.GetTreatment(ctx, id)
		if err != nil {
			return fmt.Errorf("load treatment: %w", err)
		}
		if t == nil {
			return ErrTreatmentNotFound
		}
		return repo.DeleteTreatment(ctx, id)
	})
}

// =============================================================================
// APPOINTMENT QUERIES
// =============================================================================

func (s *Service) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return loadAppointment(ctx, s.store, id)
}

type AppointmentList struct {
	Success      bool
	Message      string
	Appointments []Appointment
}

// ListAppointments returns matching appointments, newest first.
func (s *Service) ListAppointments(ctx context.Context, filter AppointmentFilter) (res *AppointmentList, err error) {
	ctx, done := s.observe(ctx, "list_appointments", attribute.String("user_id", filter.UserID))
	defer func() {
		done(err)
		if err != nil {
			res = &AppointmentList{Success: false, Message: err.Error()}
		}
	}()

	appts, err := s.store.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return &AppointmentList{
		Success:      true,
		Message:      fmt.Sprintf("%d appointments", len(appts)),
		Appointments: appts,
	}, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

type Dashboard struct {
	Success            bool
	Message            string
	Treatments         int
	Appointments       int
	Patients           int
	LatestAppointments []Appointment
	// TotalEarnings sums effective paid, so credited appointments count 0.
	TotalEarnings generic.Money
	TotalInvoiced generic.Money
	Outstanding   generic.Money
	CreditIssued  generic.Money
	// ByMethod sums money collected through external methods.
	ByMethod map[generic.PaymentMethod]generic.Money
}

// GetDashboardSummary reads one consistent snapshot of the whole store.
func (s *Service) GetDashboardSummary(ctx context.Context) (res *Dashboard, err error) {
	ctx, done := s.observe(ctx, "get_dashboard_summary")
	defer func() {
		done(err)
		if err != nil {
			res = &Dashboard{Success: false, Message: err.Error()}
		}
	}()

	var treatments []Treatment
	var users []User
	var appts []Appointment
	err = s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if treatments, err = repo.ListTreatments(ctx); err != nil {
			return fmt.Errorf("list treatments: %w", err)
		}
		if users, err = repo.ListUsers(ctx); err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		if appts, err = repo.ListAppointments(ctx, AppointmentFilter{IncludeCancelled: true}); err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Success:       true,
		Message:       "Dashboard summary",
		Treatments:    len(treatments),
		Appointments:  len(appts),
		Patients:      len(users),
		TotalEarnings: generic.Zero(),
		TotalInvoiced: generic.Zero(),
		Outstanding:   generic.Zero(),
		CreditIssued:  generic.Zero(),
		ByMethod:      make(map[generic.PaymentMethod]generic.Money),
	}
	for _, a := range appts {
		d.TotalEarnings = d.TotalEarnings.Add(a.EffectivePaid())
		d.CreditIssued = d.CreditIssued.Add(a.Details.Refunded())
		if !a.Cancelled {
			d.TotalInvoiced = d.TotalInvoiced.Add(a.Amount)
			if !a.CreditProcessed {
				d.Outstanding = d.Outstanding.Add(a.Remaining())
			}
		}
		for _, detail := range a.Details {
			if detail.Type == generic.PaymentCreditRefund || !detail.Method.IsExternal() {
				continue
			}
			d.ByMethod[detail.Method] = d.ByMethod[detail.Method].Add(detail.Amount)
		}
	}

	limit := s.policy.LatestLimit
	if limit <= 0 || limit > len(appts) {
		limit = len(appts)
	}
	d.LatestAppointments = appts[:limit]
	return d, nil
}
