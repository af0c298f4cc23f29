package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation = "23505"

	constraintNoDoubleBooking = "idx_appointments_no_double_booking"
	constraintBookingID       = "appointments_booking_id_key"
)

type PgRepository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPgRepository returns a store backed by pool. Calendar days read back from
// the database are placed in loc.
func NewPgRepository(pool *pgxpool.Pool, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{pool: pool, loc: loc}
}

// Helpers

const appointmentColumns = `
	id, booking_id, appointment_date::text, slot_start, slot_end,
	service_id, service_name, patient_id, patient_email,
	guest_name, guest_email, guest_phone,
	total_amount::text, payment_status, payment_ref, status, notes, version,
	created_at, updated_at`

func (r *PgRepository) scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                            Appointment
		day, amount                  string
		patientEmail                 *string
		guestName, guestEmail, phone *string
	)

	err := row.Scan(
		&a.ID,
		&a.BookingID,
		&day,
		&a.SlotStart,
		&a.SlotEnd,
		&a.ServiceID,
		&a.ServiceName,
		&a.PatientID,
		&patientEmail,
		&guestName,
		&guestEmail,
		&phone,
		&amount,
		&a.PaymentStatus,
		&a.PaymentRef,
		&a.Status,
		&a.Notes,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if a.Date, err = ParseDate(day, r.loc); err != nil {
		return nil, err
	}
	if a.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse total amount %q: %w", amount, err)
	}
	if patientEmail != nil {
		a.PatientEmail = *patientEmail
	}
	if guestEmail != nil {
		a.Guest = &GuestDetails{Email: *guestEmail}
		if guestName != nil {
			a.Guest.Name = *guestName
		}
		if phone != nil {
			a.Guest.Phone = *phone
		}
	}
	a.SlotStart = a.SlotStart.In(r.loc)
	a.SlotEnd = a.SlotEnd.In(r.loc)

	return &a, nil
}

func (r *PgRepository) collect(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// mapInsertError translates unique violations into the store's conflict errors.
func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintNoDoubleBooking:
			return ErrSlotAlreadyBooked
		case constraintBookingID:
			return errBookingIDTaken
		}
	}
	return err
}

// Interface methods

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var patientEmail, guestName, guestEmail, guestPhone *string
	if a.PatientEmail != "" {
		patientEmail = &a.PatientEmail
	}
	if a.Guest != nil {
		guestName, guestEmail, guestPhone = &a.Guest.Name, &a.Guest.Email, &a.Guest.Phone
	}

	// The partial unique index on (service_id, slot_start) makes this insert the
	// check-and-create step: a second blocking row for the slot fails with 23505.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, booking_id, appointment_date, slot_start, slot_end,
			service_id, service_name, patient_id, patient_email,
			guest_name, guest_email, guest_phone,
			total_amount, payment_status, payment_ref, status, notes, version,
			created_at, updated_at
		)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::numeric, $14, $15, $16, $17, 1, now(), now())
		RETURNING `+appointmentColumns,
		id, a.BookingID, a.Date.Format(DateFormat), a.SlotStart, a.SlotEnd,
		a.ServiceID, a.ServiceName, a.PatientID, patientEmail,
		guestName, guestEmail, guestPhone,
		a.TotalAmount.StringFixed(2), a.PaymentStatus, a.PaymentRef, a.Status, a.Notes,
	)

	created, err := r.scanAppointment(row)
	if err != nil {
		return nil, mapInsertError(err)
	}
	return created, nil
}

func (r *PgRepository) BookingIDExists(ctx context.Context, bookingID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE booking_id = $1)
	`, bookingID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return r.scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByBookingID(ctx context.Context, bookingID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE booking_id = $1
	`, bookingID)
	return r.scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, payment PaymentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    payment_status = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, payment)

	return r.scanAppointment(row)
}

func (r *PgRepository) IsSlotTaken(ctx context.Context, serviceID uuid.UUID, slotStart time.Time) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE service_id = $1
			  AND slot_start = $2
			  AND status IN ('Pending', 'Approved', 'Visited')
		)
	`, serviceID, slotStart).Scan(&taken)
	if err != nil {
		return false, err
	}
	return taken, nil
}

func (r *PgRepository) ListOccupiedSlots(ctx context.Context, day time.Time, serviceID *uuid.UUID) ([]OccupiedSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, service_id, slot_start, slot_end, status
		FROM appointments
		WHERE appointment_date = $1::date
		  AND status IN ('Pending', 'Approved', 'Visited')
		  AND ($2::uuid IS NULL OR service_id = $2)
		ORDER BY slot_start
	`, day.Format(DateFormat), serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]OccupiedSlot, 0)
	for rows.Next() {
		var s OccupiedSlot
		if err := rows.Scan(&s.AppointmentID, &s.ServiceID, &s.SlotStart, &s.SlotEnd, &s.Status); err != nil {
			return nil, err
		}
		s.SlotStart = s.SlotStart.In(r.loc)
		s.SlotEnd = s.SlotEnd.In(r.loc)
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListAppointmentsByDate(ctx context.Context, day time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1::date
		ORDER BY slot_start
	`, day.Format(DateFormat))
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY slot_start DESC, created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *PgRepository) ListRecentAppointments(ctx context.Context, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *PgRepository) DashboardStats(ctx context.Context, today time.Time) (DashboardStats, error) {
	var s DashboardStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE appointment_date = $1::date),
			count(*) FILTER (WHERE appointment_date = $1::date AND status = 'Visited'),
			count(*) FILTER (WHERE status = 'Pending'),
			count(*) FILTER (WHERE status = 'Approved'),
			count(*) FILTER (WHERE status = 'Visited'),
			count(*) FILTER (WHERE status = 'Cancelled'),
			count(*) FILTER (WHERE status = 'Missed'),
			count(DISTINCT COALESCE('p:' || patient_id::text, 'g:' || lower(guest_email)))
		FROM appointments
	`, today.Format(DateFormat)).Scan(
		&s.Total,
		&s.Today,
		&s.TodayCompleted,
		&s.Pending,
		&s.Approved,
		&s.Visited,
		&s.Cancelled,
		&s.Missed,
		&s.Patients,
	)
	if err != nil {
		return DashboardStats{}, err
	}
	return s, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
