package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the authoritative appointment store.
type Repository interface {
	// CreateAppointment inserts a only if no blocking appointment holds
	// (a.ServiceID, a.SlotStart). The check and the insert are one atomic step.
	// Returns ErrSlotAlreadyBooked or errBookingIDTaken on conflict.
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	BookingIDExists(ctx context.Context, bookingID string) (bool, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByBookingID(ctx context.Context, bookingID string) (*Appointment, error)

	// UpdateAppointmentStatus applies the change only while the stored status
	// still equals from; otherwise ErrNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, payment PaymentStatus) (*Appointment, error)

	// Availability index
	IsSlotTaken(ctx context.Context, serviceID uuid.UUID, slotStart time.Time) (bool, error)
	ListOccupiedSlots(ctx context.Context, day time.Time, serviceID *uuid.UUID) ([]OccupiedSlot, error)

	ListAppointmentsByDate(ctx context.Context, day time.Time) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListRecentAppointments(ctx context.Context, limit int) ([]Appointment, error)
	DashboardStats(ctx context.Context, today time.Time) (DashboardStats, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
