package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Audit event types written to event_logs.
const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventPaymentRefundFailed      = "PAYMENT_REFUND_FAILED"
)

const defaultTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/hackgods/clinic-appointments/internal/appointment")

// Deps wires a Service. Repo, Catalog and Logger are required; the rest
// fall back to no-ops.
type Deps struct {
	Repo     Repository
	Catalog  Catalog
	Payments PaymentGateway
	Notifier Notifier
	Locker   SlotLocker
	Metrics  Metrics
	Logger   *zap.Logger

	Template         DayTemplate
	Location         *time.Location
	Timeout          time.Duration
	BookingIDLength  int
	BookingIDRetries int

	Now func() time.Time
}

type Service struct {
	repo     Repository
	catalog  Catalog
	payments PaymentGateway
	notifier Notifier
	locker   SlotLocker
	metrics  Metrics
	log      *zap.Logger

	ids      *IDGenerator
	template DayTemplate
	loc      *time.Location
	timeout  time.Duration
	validate *validator.Validate
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:     d.Repo,
		catalog:  d.Catalog,
		payments: d.Payments,
		notifier: d.Notifier,
		locker:   d.Locker,
		metrics:  d.Metrics,
		log:      d.Logger,
		template: d.Template,
		loc:      d.Location,
		timeout:  d.Timeout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      d.Now,
	}

	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if len(s.template.Windows) == 0 {
		s.template = DefaultDayTemplate()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}

	length, retries := d.BookingIDLength, d.BookingIDRetries
	if length <= 0 {
		length = 8
	}
	if retries <= 0 {
		retries = 5
	}
	s.ids = NewIDGenerator(d.Repo, length, retries)

	return s
}

// Location is the clinic timezone every calendar day is interpreted in.
func (s *Service) Location() *time.Location { return s.loc }

// Today is midnight of the current clinic day.
func (s *Service) Today() time.Time { return DayStart(s.now(), s.loc) }

type CreateRequest struct {
	Date         time.Time // calendar day, any time of day
	SlotStart    Clock
	SlotEnd      Clock
	ServiceID    uuid.UUID
	PatientID    *uuid.UUID // set by the identity provider, never by the client
	PatientEmail string     // likewise; ignored without PatientID
	Guest        *GuestDetails
	Notes        string
	PaymentToken string
}

// CreateAppointment books one slot. Checks run in a fixed order and the first
// failure wins: past date, unknown service, slot shape, slot taken, party.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "appointment.CreateAppointment")
	defer span.End()
	span.SetAttributes(attribute.String("service_id", req.ServiceID.String()))

	started := s.now()
	created, err := s.createAppointment(ctx, req)
	s.metrics.ObserveBooking(bookingOutcome(err), s.now().Sub(started))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return created, nil
}

func (s *Service) createAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	day := DayStart(req.Date, s.loc)
	if day.Before(s.Today()) {
		return nil, ErrPastDateRejected
	}

	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("service %s: %w", req.ServiceID, ErrNotFound)
		}
		return nil, timeoutErr("load service", err)
	}

	if !s.slotFits(svc, req.SlotStart, req.SlotEnd) {
		return nil, ErrInvalidSlot
	}
	slotStart, slotEnd := Slot{Start: req.SlotStart, End: req.SlotEnd}.On(day)

	taken, err := s.repo.IsSlotTaken(ctx, svc.ID, slotStart)
	if err != nil {
		return nil, timeoutErr("check slot", err)
	}
	if taken {
		return nil, ErrSlotAlreadyBooked
	}

	guest, err := s.checkParty(req.PatientID, req.Guest)
	if err != nil {
		return nil, err
	}

	var patientEmail string
	if req.PatientID != nil {
		patientEmail = strings.TrimSpace(req.PatientEmail)
	}

	appt := &Appointment{
		Date:          day,
		SlotStart:     slotStart,
		SlotEnd:       slotEnd,
		ServiceID:     svc.ID,
		ServiceName:   svc.Name,
		PatientID:     req.PatientID,
		PatientEmail:  patientEmail,
		Guest:         guest,
		TotalAmount:   svc.TotalAmount(),
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
		Notes:         strings.TrimSpace(req.Notes),
	}

	if appt.BookingID, err = s.generateBookingID(ctx); err != nil {
		return nil, err
	}

	s.charge(ctx, appt, req.PaymentToken)

	created, err := s.insert(ctx, appt)
	if err != nil {
		s.refundCapture(ctx, appt, "booking not stored")
		return nil, err
	}

	s.notify(ctx, EventCreated, *created)
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"booking_id":     created.BookingID,
		"service_id":     created.ServiceID.String(),
		"slot_start":     created.SlotStart,
		"total_amount":   created.TotalAmount.StringFixed(2),
		"payment_status": created.PaymentStatus,
	})

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("booking_id", created.BookingID),
		zap.String("service_id", created.ServiceID.String()),
		zap.Time("slot_start", created.SlotStart),
	)

	return created, nil
}

func (s *Service) slotFits(svc *ServiceInfo, start, end Clock) bool {
	if svc.DurationMinutes <= 0 || end-start != Clock(svc.DurationMinutes) {
		return false
	}
	for _, slot := range s.template.SlotsForDay(svc.DurationMinutes) {
		if slot.Start == start && slot.End == end {
			return true
		}
	}
	return false
}

// checkParty needs a patient, a guest, or both. Guest details given alongside
// a patient are still validated.
func (s *Service) checkParty(patientID *uuid.UUID, guest *GuestDetails) (*GuestDetails, error) {
	if guest.empty() {
		if patientID == nil {
			return nil, ErrInvalidParty
		}
		return nil, nil
	}

	g := &GuestDetails{
		Name:  strings.TrimSpace(guest.Name),
		Email: strings.TrimSpace(guest.Email),
		Phone: strings.TrimSpace(guest.Phone),
	}
	if err := s.validate.Struct(g); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParty, describeValidation(err))
	}
	return g, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(fields, ", ")
}

func (s *Service) generateBookingID(ctx context.Context) (string, error) {
	id, err := s.ids.Generate(ctx)
	if err != nil {
		if errors.Is(err, ErrGenerationExhausted) {
			s.log.Error("booking id space exhausted",
				zap.Bool("alert", true),
				zap.Int("attempts", s.ids.attempts),
				zap.Int("length", s.ids.length),
			)
			return "", err
		}
		return "", timeoutErr("generate booking id", err)
	}
	return id, nil
}

func (s *Service) charge(ctx context.Context, appt *Appointment, token string) {
	if s.payments == nil || strings.TrimSpace(token) == "" {
		return
	}

	ref, err := s.payments.Charge(ctx, ChargeRequest{
		BookingID: appt.BookingID,
		Token:     token,
		Amount:    appt.TotalAmount,
		Email:     appt.ContactEmail(),
	})
	if err != nil {
		s.log.Warn("payment not captured, booking stays unpaid",
			zap.String("booking_id", appt.BookingID),
			zap.Error(err),
		)
		return
	}

	appt.PaymentStatus = PaymentPaid
	appt.PaymentRef = ref
}

// insert runs the atomic check-and-create, inside the slot lock when one is
// configured. A booking id that lost an insert race is redrawn.
func (s *Service) insert(ctx context.Context, appt *Appointment) (*Appointment, error) {
	var created *Appointment

	create := func(ctx context.Context) error {
		for attempt := 0; ; attempt++ {
			c, err := s.repo.CreateAppointment(ctx, appt)
			if err == nil {
				created = c
				return nil
			}
			if !errors.Is(err, errBookingIDTaken) {
				return err
			}
			s.metrics.IncBookingIDCollision()
			if attempt+1 >= s.ids.attempts {
				return ErrGenerationExhausted
			}
			if appt.BookingID, err = s.generateBookingID(ctx); err != nil {
				return err
			}
		}
	}

	var err error
	if s.locker == nil {
		err = create(ctx)
	} else {
		entered := false
		err = s.locker.WithSlotLock(ctx, appt.ServiceID, appt.SlotStart, func(lockCtx context.Context) error {
			entered = true
			return create(lockCtx)
		})
		if err != nil && !entered {
			s.log.Warn("slot lock not acquired",
				zap.String("service_id", appt.ServiceID.String()),
				zap.Time("slot_start", appt.SlotStart),
				zap.Error(err),
			)
			return nil, fmt.Errorf("acquire slot lock: %w", ErrStorageTimeout)
		}
	}

	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrGenerationExhausted):
		return nil, err
	default:
		return nil, timeoutErr("create appointment", err)
	}
}

// refundCapture gives back a charge whose booking was never stored.
func (s *Service) refundCapture(ctx context.Context, appt *Appointment, reason string) {
	if appt.PaymentStatus != PaymentPaid || s.payments == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.payments.Refund(ctx, appt.PaymentRef, appt.TotalAmount); err != nil {
		s.log.Error("refund failed",
			zap.Bool("alert", true),
			zap.String("booking_id", appt.BookingID),
			zap.String("payment_ref", appt.PaymentRef),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// UpdateStatus moves an appointment along the state machine on behalf of
// actor. Patients and guests only see their own appointments; anything else
// is reported as not found.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, target AppointmentStatus, actor Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "appointment.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("target", string(target)),
		attribute.String("actor", string(actor.Role)),
	)

	current, err := s.GetAppointment(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if err := CheckTransition(current.Status, target, actor); err != nil {
		return nil, fmt.Errorf("%s -> %s: %w", current.Status, target, err)
	}

	payment := current.PaymentStatus
	if target == StatusCancelled && payment == PaymentPaid {
		payment = PaymentRefunded
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, current.ID, current.Status, target, payment)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Someone else moved it first.
			return nil, fmt.Errorf("%s changed concurrently: %w", current.Status, ErrInvalidTransition)
		}
		return nil, timeoutErr("update status", err)
	}

	if payment == PaymentRefunded && current.PaymentStatus == PaymentPaid {
		s.refundCancelled(ctx, updated)
	}

	s.metrics.ObserveTransition(string(current.Status), string(target))
	s.notify(ctx, EventUpdated, *updated)
	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from":           current.Status,
		"to":             updated.Status,
		"actor":          actor.Role,
		"payment_status": updated.PaymentStatus,
	})

	s.log.Info("appointment status changed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("actor", string(actor.Role)),
	)

	return updated, nil
}

// refundCancelled asks the gateway to return money for a cancelled booking.
// The stored status is already Refunded; a gateway failure is audited.
func (s *Service) refundCancelled(ctx context.Context, a *Appointment) {
	if s.payments == nil || a.PaymentRef == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.payments.Refund(ctx, a.PaymentRef, a.TotalAmount); err != nil {
		s.log.Error("refund failed",
			zap.Bool("alert", true),
			zap.String("booking_id", a.BookingID),
			zap.String("payment_ref", a.PaymentRef),
			zap.Error(err),
		)
		s.logEvent(ctx, a.ID, EventPaymentRefundFailed, map[string]any{
			"payment_ref": a.PaymentRef,
			"error":       err.Error(),
		})
	}
}

// Availability lists the occupied slots on date, optionally for one service.
func (s *Service) Availability(ctx context.Context, date time.Time, serviceID *uuid.UUID) ([]OccupiedSlot, error) {
	ctx, span := tracer.Start(ctx, "appointment.Availability")
	defer span.End()

	occupied, err := s.repo.ListOccupiedSlots(ctx, DayStart(date, s.loc), serviceID)
	if err != nil {
		return nil, timeoutErr("lookup availability", err)
	}
	return occupied, nil
}

type SlotAvailability struct {
	Start     Clock
	End       Clock
	StartsAt  time.Time
	EndsAt    time.Time
	Available bool
}

// DaySlots lays the service's slots for date over the availability index.
func (s *Service) DaySlots(ctx context.Context, date time.Time, serviceID uuid.UUID) ([]SlotAvailability, error) {
	svc, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("service %s: %w", serviceID, ErrNotFound)
		}
		return nil, timeoutErr("load service", err)
	}
	if svc.DurationMinutes <= 0 {
		return nil, ErrInvalidSlot
	}

	day := DayStart(date, s.loc)
	occupied, err := s.Availability(ctx, day, &svc.ID)
	if err != nil {
		return nil, err
	}

	taken := make(map[int64]bool, len(occupied))
	for _, o := range occupied {
		taken[o.SlotStart.Unix()] = true
	}

	slots := s.template.SlotsForDay(svc.DurationMinutes)
	out := make([]SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		start, end := slot.On(day)
		out = append(out, SlotAvailability{
			Start:     slot.Start,
			End:       slot.End,
			StartsAt:  start,
			EndsAt:    end,
			Available: !taken[start.Unix()],
		})
	}
	return out, nil
}

// ListForDate is the admin day sheet, ordered by slot start.
func (s *Service) ListForDate(ctx context.Context, date time.Time) ([]Appointment, error) {
	list, err := s.repo.ListAppointmentsByDate(ctx, DayStart(date, s.loc))
	if err != nil {
		return nil, timeoutErr("list appointments", err)
	}
	return list, nil
}

// Dashboard aggregates counts for the admin home page. Storage errors give
// zero counts.
func (s *Service) Dashboard(ctx context.Context) DashboardStats {
	stats, err := s.repo.DashboardStats(ctx, s.Today())
	if err != nil {
		s.log.Warn("dashboard stats unavailable", zap.Error(err))
		return DashboardStats{}
	}
	return stats
}

// Recent returns the newest bookings by creation time.
func (s *Service) Recent(ctx context.Context, limit int) []Appointment {
	if limit <= 0 {
		limit = 10
	}
	list, err := s.repo.ListRecentAppointments(ctx, limit)
	if err != nil {
		s.log.Warn("recent appointments unavailable", zap.Error(err))
		return []Appointment{}
	}
	return list
}

// notify runs after commit on the caller's goroutine, so one appointment's
// changes reach the notifier in commit order.
func (s *Service) notify(ctx context.Context, kind EventKind, a Appointment) {
	s.notifier.Notify(context.WithoutCancel(ctx), kind, a)
}

// logEvent writes an audit row. Failures are logged, never returned.
func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	id := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &id,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error("insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrPastDateRejected):
		return "past_date"
	case errors.Is(err, ErrInvalidSlot):
		return "invalid_slot"
	case errors.Is(err, ErrSlotAlreadyBooked):
		return "slot_taken"
	case errors.Is(err, ErrInvalidParty):
		return "invalid_party"
	case errors.Is(err, ErrNotFound):
		return "unknown_service"
	case errors.Is(err, ErrGenerationExhausted):
		return "id_exhausted"
	case errors.Is(err, ErrStorageTimeout):
		return "timeout"
	default:
		return "error"
	}
}
