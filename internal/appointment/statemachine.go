package appointment

import (
	"slices"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RolePatient Role = "patient"
	RoleGuest   Role = "guest"
)

// Actor is whoever asks for a mutation. Patients carry their id, guests the
// email they proved by presenting it with the booking id.
type Actor struct {
	Role      Role
	PatientID *uuid.UUID
	Email     string
}

func AdminActor() Actor { return Actor{Role: RoleAdmin} }

func PatientActor(id uuid.UUID) Actor { return Actor{Role: RolePatient, PatientID: &id} }

func GuestActor(email string) Actor { return Actor{Role: RoleGuest, Email: email} }

var adminTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:  {StatusApproved, StatusCancelled, StatusMissed},
	StatusApproved: {StatusVisited, StatusCancelled, StatusMissed},
}

var selfServiceTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:  {StatusCancelled},
	StatusApproved: {StatusCancelled},
}

// Terminal statuses accept no further transition.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusVisited || s == StatusCancelled || s == StatusMissed
}

// CanTransition reports whether to is reachable from from at all.
func CanTransition(from, to AppointmentStatus) bool {
	return slices.Contains(adminTransitions[from], to)
}

// CheckTransition validates the move for the actor: ErrInvalidTransition for
// moves outside the table, ErrForbidden for moves the actor's role may not make.
func CheckTransition(from, to AppointmentStatus, actor Actor) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	if actor.Role == RoleAdmin {
		return nil
	}
	if actor.Role == RolePatient || actor.Role == RoleGuest {
		if slices.Contains(selfServiceTransitions[from], to) {
			return nil
		}
	}
	return ErrForbidden
}

// AllowedTransitions lists the targets the actor may pick from the current status.
func AllowedTransitions(from AppointmentStatus, actor Actor) []AppointmentStatus {
	var out []AppointmentStatus
	for _, to := range adminTransitions[from] {
		if CheckTransition(from, to, actor) == nil {
			out = append(out, to)
		}
	}
	return out
}

// owns reports whether a non-admin actor may see and act on a.
func (actor Actor) owns(a *Appointment) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RolePatient:
		return actor.PatientID != nil && a.PatientID != nil && *actor.PatientID == *a.PatientID
	case RoleGuest:
		return emailMatches(a.ContactEmail(), actor.Email)
	}
	return false
}
