package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog resolves the service a booking is for. Unknown ids wrap ErrNotFound.
type Catalog interface {
	GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error)
}

type ChargeRequest struct {
	BookingID string
	Token     string
	Amount    decimal.Decimal
	Email     string
}

// PaymentGateway captures and returns money. A Charge error of any kind leaves
// the booking with payment status Pending.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ref string, err error)
	Refund(ctx context.Context, ref string, amount decimal.Decimal) error
}

type EventKind string

const (
	EventCreated EventKind = "new_appointment"
	EventUpdated EventKind = "appointment_updated"
)

// Notifier receives every committed change in commit order. Notify is called
// on the request path, so implementations must enqueue and return.
type Notifier interface {
	Notify(ctx context.Context, kind EventKind, a Appointment)
}

// SlotLocker serializes bookings of one (service, slot start) across
// instances. When the lock cannot be taken fn is not called and a non-nil
// error is returned.
type SlotLocker interface {
	WithSlotLock(ctx context.Context, serviceID uuid.UUID, slotStart time.Time, fn func(ctx context.Context) error) error
}

// Metrics records workflow outcomes.
type Metrics interface {
	ObserveBooking(outcome string, elapsed time.Duration)
	ObserveTransition(from, to string)
	IncBookingIDCollision()
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, EventKind, Appointment) {}

type nopMetrics struct{}

func (nopMetrics) ObserveBooking(string, time.Duration) {}
func (nopMetrics) ObserveTransition(string, string)     {}
func (nopMetrics) IncBookingIDCollision()               {}
