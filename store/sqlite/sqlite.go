/*
Package sqlite provides a SQLite-backed implementation of booking.Store.

PURPOSE:
  Persists users, credit history, treatments, appointments and their
  payment history. Every use case of the booking service runs in one
  database transaction through WithTx.

KEY TABLES:
  users:               Users with their denormalized credit balance
  credit_history:      Append-only credit movements
  treatments:          Bookable treatments
  appointments:        Slot, ledger state, flags and the pending payment
  transaction_details: Append-only payment entries per appointment
  counters:            The booking number sequence

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on credit_history
  - No UPDATE statements on transaction_details
  - transaction_details rows only go away with their appointment (cascade)

CONCURRENCY:
  The pool is limited to one connection, so SQLite sees a single writer and
  a ":memory:" database is shared by every caller. Inside WithTx every read
  and write goes through the *sql.Tx; touching the pool there would wait
  for the connection the transaction already holds.

MIGRATION:
  Schema is applied on New() by golang-migrate from the embedded
  migrations package.

USAGE:
  store, err := sqlite.New("./data/booking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := booking.NewService(store)

SEE ALSO:
  - booking/store.go: Interface definition
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/generic"
	"github.com/warp/booking-engine/migrations"
)

// timeLayout is fixed-width so stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements booking.Store using SQLite.
type Store struct {
	repo
	db *sql.DB
}

// New opens the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewFromDB(db), nil
}

// NewFromDB wraps an open database without migrating it.
func NewFromDB(db *sql.DB) *Store {
	return &Store{repo: repo{q: db}, db: db}
}

// Migrate applies every pending migration. The migrate instance is not
// closed: closing it would close db.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(booking.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo). The booking counter is kept so
// numbers handed out before the reset are never issued again.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(r booking.Repository) error {
		q := r.(*repo).q
		tables := []string{"transaction_details", "appointments", "credit_history", "users", "treatments"}
		for _, table := range tables {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// REPOSITORY - Queries shared by the pool and transactions
// =============================================================================

type repo struct {
	q querier
}

var _ booking.Store = (*Store)(nil)

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, name, phone, email, credit_balance, created_at`

func (r *repo) GetUser(ctx context.Context, id string) (*booking.User, error) {
	return r.findUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (r *repo) FindUserByPhone(ctx context.Context, phone string) (*booking.User, error) {
	return r.findUser(ctx, "SELECT "+userColumns+" FROM users WHERE phone = ?", phone)
}

func (r *repo) findUser(ctx context.Context, query string, args ...any) (*booking.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u.Credit.History, err = r.creditHistory(ctx, u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repo) CreateUser(ctx context.Context, u booking.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, name, phone, email, credit_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Phone, nullString(u.Email), u.Credit.Balance.String(), formatTime(u.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return booking.ErrDuplicatePhone
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// ListUsers returns users without their credit history.
func (r *repo) ListUsers(ctx context.Context) ([]booking.User, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []booking.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *repo) SaveCredit(ctx context.Context, userID string, balance generic.Money, entries []generic.CreditEntry) error {
	res, err := r.q.ExecContext(ctx, "UPDATE users SET credit_balance = ? WHERE id = ?", balance.String(), userID)
	if err != nil {
		return fmt.Errorf("failed to update credit balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrUserNotFound
	}
	for _, e := range entries {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO credit_history (id, user_id, amount, entry_type, appointment_id, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, userID, e.Amount.String(), string(e.Type), nullString(e.AppointmentID), e.Description, formatTime(e.At),
		)
		if err != nil {
			return fmt.Errorf("failed to append credit entry: %w", err)
		}
	}
	return nil
}

func (r *repo) creditHistory(ctx context.Context, userID string) ([]generic.CreditEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, amount, entry_type, appointment_id, description, created_at
		FROM credit_history WHERE user_id = ? ORDER BY rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit history: %w", err)
	}
	defer rows.Close()

	var out []generic.CreditEntry
	for rows.Next() {
		var e generic.CreditEntry
		var amount, typ, at string
		var apptID, desc sql.NullString
		if err := rows.Scan(&e.ID, &amount, &typ, &apptID, &desc, &at); err != nil {
			return nil, fmt.Errorf("failed to scan credit entry: %w", err)
		}
		e.Amount = parseMoney(amount)
		e.Type = generic.CreditEntryType(typ)
		e.AppointmentID = apptID.String
		e.Description = desc.String
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TREATMENTS
// =============================================================================

const treatmentColumns = `id, name, speciality, practitioner, fee, duration_minutes, available, created_at`

func (r *repo) SaveTreatment(ctx context.Context, t booking.Treatment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO treatments (`+treatmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			speciality = excluded.speciality,
			practitioner = excluded.practitioner,
			fee = excluded.fee,
			duration_minutes = excluded.duration_minutes,
			available = excluded.available`,
		t.ID, t.Name, nullString(t.Speciality), t.Practitioner, t.Fee.String(),
		t.DurationMinutes, t.Available, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save treatment: %w", err)
	}
	return nil
}

func (r *repo) GetTreatment(ctx context.Context, id string) (*booking.Treatment, error) {
	t, err := scanTreatment(r.q.QueryRowContext(ctx, "SELECT "+treatmentColumns+" FROM treatments WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get treatment: %w", err)
	}
	return &t, nil
}

func (r *repo) ListTreatments(ctx context.Context) ([]booking.Treatment, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+treatmentColumns+" FROM treatments ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list treatments: %w", err)
	}
	defer rows.Close()

	var out []booking.Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repo) DeleteTreatment(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM treatments WHERE id = ?", id)
	return err
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

const appointmentColumns = `id, booking_number, user_id, treatment_id, practitioner, date,
	start_minute, duration_minutes, payment_type, amount, paid, payment_status,
	credit_processed, cancelled, cancelled_at_checkout, completed,
	pending_correlation_id, pending_amount, pending_charge, pending_payment_type, pending_use_credit, pending_created_at,
	user_name, user_phone, user_email, treatment_name, treatment_speciality,
	created_at, updated_at`

func (r *repo) NextBookingNumber(ctx context.Context) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx,
		"UPDATE counters SET value = value + 1 WHERE name = 'booking_number' RETURNING value",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment booking counter: %w", err)
	}
	return n, nil
}

func (r *repo) CreateAppointment(ctx context.Context, a booking.Appointment) error {
	p := pendingColumns(a.Pending)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BookingNumber, a.UserID, a.TreatmentID, a.Practitioner, a.Date.String(),
		a.Slot.StartMinutes(), a.Slot.Duration, string(a.PaymentType), a.Amount.String(), a.Paid.String(), string(a.Status),
		a.CreditProcessed, a.Cancelled, a.CancelledAtCheckout, a.Completed,
		p.correlationID, p.amount, p.charge, p.paymentType, p.useCredit, p.createdAt,
		a.User.Name, a.User.Phone, nullString(a.User.Email), a.Treatment.Name, nullString(a.Treatment.Speciality),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return r.AppendDetails(ctx, a.ID, a.Details)
}

func (r *repo) GetAppointment(ctx context.Context, id string) (*booking.Appointment, error) {
	a, err := scanAppointment(r.q.QueryRowContext(ctx, "SELECT "+appointmentColumns+" FROM appointments WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	if a.Details, err = r.details(ctx, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repo) UpdateAppointment(ctx context.Context, a booking.Appointment) error {
	p := pendingColumns(a.Pending)
	res, err := r.q.ExecContext(ctx, `
		UPDATE appointments SET
			paid = ?, payment_status = ?, credit_processed = ?,
			cancelled = ?, cancelled_at_checkout = ?, completed = ?,
			pending_correlation_id = ?, pending_amount = ?, pending_charge = ?, pending_payment_type = ?,
			pending_use_credit = ?, pending_created_at = ?,
			updated_at = ?
		WHERE id = ?`,
		a.Paid.String(), string(a.Status), a.CreditProcessed,
		a.Cancelled, a.CancelledAtCheckout, a.Completed,
		p.correlationID, p.amount, p.charge, p.paymentType, p.useCredit, p.createdAt,
		formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrAppointmentNotFound
	}
	return nil
}

func (r *repo) AppendDetails(ctx context.Context, appointmentID string, details []generic.TransactionDetail) error {
	for _, d := range details {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO transaction_details (id, appointment_id, amount, method, payment_type, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, appointmentID, d.Amount.String(), string(d.Method), string(d.Type), d.Description, formatTime(d.At),
		)
		if err != nil {
			return fmt.Errorf("failed to append transaction detail: %w", err)
		}
	}
	return nil
}

func (r *repo) DeleteAppointment(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM appointments WHERE id = ?", id)
	return err
}

func (r *repo) ListAppointments(ctx context.Context, filter booking.AppointmentFilter) ([]booking.Appointment, error) {
	var where []string
	var args []any
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Practitioner != "" {
		where = append(where, "practitioner = ?")
		args = append(args, filter.Practitioner)
	}
	if filter.Date != nil {
		where = append(where, "date = ?")
		args = append(args, filter.Date.String())
	}
	if !filter.IncludeCancelled {
		where = append(where, "cancelled = 0")
	}

	query := "SELECT " + appointmentColumns + " FROM appointments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, start_minute DESC, booking_number DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return r.queryAppointments(ctx, query, args...)
}

func (r *repo) BookedSlots(ctx context.Context, practitioner string, day generic.Day) ([]generic.Slot, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT start_minute, duration_minutes FROM appointments
		WHERE practitioner = ? AND date = ? AND cancelled = 0
		ORDER BY start_minute ASC`, practitioner, day.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query booked slots: %w", err)
	}
	defer rows.Close()

	var out []generic.Slot
	for rows.Next() {
		var start, duration int
		if err := rows.Scan(&start, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		out = append(out, generic.Slot{Start: generic.Clock(start), Duration: duration})
	}
	return out, rows.Err()
}

func (r *repo) StalePendingPayments(ctx context.Context, before time.Time) ([]booking.Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE pending_correlation_id IS NOT NULL AND pending_created_at < ?`, formatTime(before))
}

// queryAppointments reads every row before loading details, so the single
// pooled connection is never asked for a second cursor.
func (r *repo) queryAppointments(ctx context.Context, query string, args ...any) ([]booking.Appointment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	var out []booking.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Details, err = r.details(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *repo) details(ctx context.Context, appointmentID string) (generic.Details, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, amount, method, payment_type, description, created_at
		FROM transaction_details WHERE appointment_id = ? ORDER BY rowid ASC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction details: %w", err)
	}
	defer rows.Close()

	var out generic.Details
	for rows.Next() {
		var d generic.TransactionDetail
		var amount, method, typ, at string
		var desc sql.NullString
		if err := rows.Scan(&d.ID, &amount, &method, &typ, &desc, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transaction detail: %w", err)
		}
		d.Amount = parseMoney(amount)
		d.Method = generic.PaymentMethod(method)
		d.Type = generic.PaymentType(typ)
		d.Description = desc.String
		d.At = parseTime(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (booking.User, error) {
	var u booking.User
	var email sql.NullString
	var balance, createdAt string
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &email, &balance, &createdAt); err != nil {
		return booking.User{}, err
	}
	u.Email = email.String
	u.Credit.Balance = parseMoney(balance)
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func scanTreatment(row scanner) (booking.Treatment, error) {
	var t booking.Treatment
	var speciality sql.NullString
	var fee, createdAt string
	err := row.Scan(&t.ID, &t.Name, &speciality, &t.Practitioner, &fee, &t.DurationMinutes, &t.Available, &createdAt)
	if err != nil {
		return booking.Treatment{}, err
	}
	t.Speciality = speciality.String
	t.Fee = parseMoney(fee)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func scanAppointment(row scanner) (booking.Appointment, error) {
	var a booking.Appointment
	var date, paymentType, amount, paid, status, createdAt, updatedAt string
	var start, duration int
	var pCorrelation, pAmount, pCharge, pType, pCreatedAt sql.NullString
	var pUseCredit sql.NullBool
	var userEmail, speciality sql.NullString

	err := row.Scan(
		&a.ID, &a.BookingNumber, &a.UserID, &a.TreatmentID, &a.Practitioner, &date,
		&start, &duration, &paymentType, &amount, &paid, &status,
		&a.CreditProcessed, &a.Cancelled, &a.CancelledAtCheckout, &a.Completed,
		&pCorrelation, &pAmount, &pCharge, &pType, &pUseCredit, &pCreatedAt,
		&a.User.Name, &a.User.Phone, &userEmail, &a.Treatment.Name, &speciality,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return booking.Appointment{}, err
	}

	a.Date, _ = generic.ParseDay(date)
	a.Slot = generic.Slot{Start: generic.Clock(start), Duration: duration}
	a.PaymentType = generic.PaymentType(paymentType)
	a.Amount = parseMoney(amount)
	a.Paid = parseMoney(paid)
	a.Status = generic.PaymentStatus(status)
	a.User.Email = userEmail.String
	a.Treatment.Speciality = speciality.String
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	if pCorrelation.Valid {
		a.Pending = &booking.PendingPayment{
			CorrelationID: pCorrelation.String,
			Amount:        parseMoney(pAmount.String),
			Charge:        parseMoney(pCharge.String),
			PaymentType:   generic.PaymentType(pType.String),
			UseCredit:     pUseCredit.Bool,
			CreatedAt:     parseTime(pCreatedAt.String),
		}
	}
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type pendingRow struct {
	correlationID, amount, charge, paymentType, createdAt sql.NullString
	useCredit                                             sql.NullBool
}

func pendingColumns(p *booking.PendingPayment) pendingRow {
	if p == nil {
		return pendingRow{}
	}
	return pendingRow{
		correlationID: nullString(p.CorrelationID),
		amount:        nullString(p.Amount.String()),
		charge:        nullString(p.Charge.String()),
		paymentType:   nullString(string(p.PaymentType)),
		createdAt:     nullString(formatTime(p.CreatedAt)),
		useCredit:     sql.NullBool{Bool: p.UseCredit, Valid: true},
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseMoney(s string) generic.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return generic.Zero()
	}
	return generic.MoneyFromDecimal(d)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
