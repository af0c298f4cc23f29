package appointment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func emailMatches(stored, given string) bool {
	stored, given = strings.TrimSpace(stored), strings.TrimSpace(given)
	if stored == "" || given == "" {
		return false
	}
	return strings.EqualFold(stored, given)
}

// NormalizeBookingID uppercases and trims user input.
func NormalizeBookingID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// FindByIdentifier returns the booking only when bookingID and email both
// match. A wrong email is indistinguishable from an unknown id.
func (s *Service) FindByIdentifier(ctx context.Context, bookingID, email string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.FindByIdentifier")
	defer span.End()

	bookingID = NormalizeBookingID(bookingID)
	if !ValidBookingID(bookingID) {
		return nil, ErrNotFound
	}

	a, err := s.repo.GetAppointmentByBookingID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, timeoutErr("load booking", err)
	}

	if !emailMatches(a.ContactEmail(), email) {
		return nil, ErrNotFound
	}

	return a, nil
}

// FindHistoryForPatient lists a patient's bookings, newest slot first. Read
// failures are logged and yield an empty list.
func (s *Service) FindHistoryForPatient(ctx context.Context, patientID uuid.UUID) []Appointment {
	ctx, span := tracer.Start(ctx, "appointment.FindHistoryForPatient")
	defer span.End()

	list, err := s.repo.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		s.log.Warn("patient history unavailable",
			zap.String("patient_id", patientID.String()),
			zap.Error(err),
		)
		return []Appointment{}
	}
	return list
}

// CancelByIdentifier lets a guest cancel with the same proof they use to look
// the booking up.
func (s *Service) CancelByIdentifier(ctx context.Context, bookingID, email string) (*Appointment, error) {
	a, err := s.FindByIdentifier(ctx, bookingID, email)
	if err != nil {
		return nil, err
	}
	return s.UpdateStatus(ctx, a.ID, StatusCancelled, GuestActor(email))
}

func (s *Service) CancelForPatient(ctx context.Context, appointmentID, patientID uuid.UUID) (*Appointment, error) {
	return s.UpdateStatus(ctx, appointmentID, StatusCancelled, PatientActor(patientID))
}

// GetAppointment loads one appointment the actor is allowed to see.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, timeoutErr("load appointment", err)
	}
	if !actor.owns(a) {
		return nil, ErrNotFound
	}
	return a, nil
}
