package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	serviceID uuid.UUID
	start     int64
}

func keyFor(serviceID uuid.UUID, start time.Time) slotKey {
	return slotKey{serviceID: serviceID, start: start.UnixNano()}
}

// MemoryRepository keeps appointments in process memory. One mutex guards all
// maps, so the slot check and the insert in CreateAppointment cannot interleave
// with another booking.
type MemoryRepository struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*Appointment
	byBooking map[string]uuid.UUID
	slots     map[slotKey]uuid.UUID // blocking appointments only
	events    []EventLog
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:      make(map[uuid.UUID]*Appointment),
		byBooking: make(map[string]uuid.UUID),
		slots:     make(map[slotKey]uuid.UUID),
		now:       time.Now,
	}
}

func clone(a *Appointment) *Appointment {
	c := *a
	if a.Guest != nil {
		g := *a.Guest
		c.Guest = &g
	}
	if a.PatientID != nil {
		id := *a.PatientID
		c.PatientID = &id
	}
	return &c
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyFor(a.ServiceID, a.SlotStart)
	if _, taken := r.slots[key]; taken && a.Status.Blocking() {
		return nil, ErrSlotAlreadyBooked
	}
	if _, taken := r.byBooking[a.BookingID]; taken {
		return nil, errBookingIDTaken
	}

	stored := clone(a)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := r.now()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.byID[stored.ID] = stored
	r.byBooking[stored.BookingID] = stored.ID
	if stored.Status.Blocking() {
		r.slots[key] = stored.ID
	}

	return clone(stored), nil
}

func (r *MemoryRepository) BookingIDExists(_ context.Context, bookingID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byBooking[bookingID]
	return ok, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepository) GetAppointmentByBookingID(_ context.Context, bookingID string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byBooking[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, payment PaymentStatus) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || a.Status != from {
		return nil, ErrNotFound
	}

	a.Status = to
	a.PaymentStatus = payment
	a.Version++
	a.UpdatedAt = r.now()

	key := keyFor(a.ServiceID, a.SlotStart)
	if !to.Blocking() && r.slots[key] == a.ID {
		delete(r.slots, key)
	}

	return clone(a), nil
}

func (r *MemoryRepository) IsSlotTaken(_ context.Context, serviceID uuid.UUID, slotStart time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.slots[keyFor(serviceID, slotStart)]
	return ok, nil
}

func (r *MemoryRepository) ListOccupiedSlots(_ context.Context, day time.Time, serviceID *uuid.UUID) ([]OccupiedSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]OccupiedSlot, 0)
	for _, a := range r.byID {
		if !a.Date.Equal(day) || !a.Status.Blocking() {
			continue
		}
		if serviceID != nil && a.ServiceID != *serviceID {
			continue
		}
		out = append(out, OccupiedSlot{
			AppointmentID: a.ID,
			ServiceID:     a.ServiceID,
			SlotStart:     a.SlotStart,
			SlotEnd:       a.SlotEnd,
			Status:        a.Status,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	return out, nil
}

func (r *MemoryRepository) ListAppointmentsByDate(_ context.Context, day time.Time) ([]Appointment, error) {
	return r.filter(func(a *Appointment) bool { return a.Date.Equal(day) }, func(x, y *Appointment) bool {
		return x.SlotStart.Before(y.SlotStart)
	}, 0), nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.filter(func(a *Appointment) bool {
		return a.PatientID != nil && *a.PatientID == patientID
	}, func(x, y *Appointment) bool {
		if x.SlotStart.Equal(y.SlotStart) {
			return x.CreatedAt.After(y.CreatedAt)
		}
		return x.SlotStart.After(y.SlotStart)
	}, 0), nil
}

func (r *MemoryRepository) ListRecentAppointments(_ context.Context, limit int) ([]Appointment, error) {
	return r.filter(func(*Appointment) bool { return true }, func(x, y *Appointment) bool {
		return x.CreatedAt.After(y.CreatedAt)
	}, limit), nil
}

func (r *MemoryRepository) filter(keep func(*Appointment) bool, less func(x, y *Appointment) bool, limit int) []Appointment {
	r.mu.RLock()
	matched := make([]*Appointment, 0)
	for _, a := range r.byID {
		if keep(a) {
			matched = append(matched, clone(a))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Appointment, 0, len(matched))
	for _, a := range matched {
		out = append(out, *a)
	}
	return out
}

func (r *MemoryRepository) DashboardStats(_ context.Context, today time.Time) (DashboardStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats DashboardStats
	patients := make(map[string]struct{})
	for _, a := range r.byID {
		stats.Total++
		switch a.Status {
		case StatusPending:
			stats.Pending++
		case StatusApproved:
			stats.Approved++
		case StatusVisited:
			stats.Visited++
		case StatusCancelled:
			stats.Cancelled++
		case StatusMissed:
			stats.Missed++
		}
		if a.Date.Equal(today) {
			stats.Today++
			if a.Status == StatusVisited {
				stats.TodayCompleted++
			}
		}
		if a.PatientID != nil {
			patients["p:"+a.PatientID.String()] = struct{}{}
		} else if email := a.ContactEmail(); email != "" {
			patients["g:"+strings.ToLower(email)] = struct{}{}
		}
	}
	stats.Patients = len(patients)

	return stats, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit trail.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}
