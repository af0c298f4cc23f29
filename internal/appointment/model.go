package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "Pending"
	StatusApproved  AppointmentStatus = "Approved"
	StatusVisited   AppointmentStatus = "Visited"
	StatusCancelled AppointmentStatus = "Cancelled"
	StatusMissed    AppointmentStatus = "Missed"
)

// BlockingStatuses occupy a (service, slot start) pair.
var BlockingStatuses = []AppointmentStatus{StatusPending, StatusApproved, StatusVisited}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusVisited, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// Blocking reports whether an appointment in this status holds its slot.
func (s AppointmentStatus) Blocking() bool {
	return s == StatusPending || s == StatusApproved || s == StatusVisited
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentRefunded PaymentStatus = "Refunded"
)

// ServiceInfo is the catalog entry a booking is sized and priced from.
type ServiceInfo struct {
	ID              uuid.UUID
	Name            string
	Category        string
	Location        *string // nil means all locations
	Price           decimal.Decimal
	TaxRate         decimal.Decimal // percent
	DurationMinutes int
}

// Duration of one appointment of this service.
func (s ServiceInfo) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// TotalAmount is price plus tax, rounded to two decimals.
func (s ServiceInfo) TotalAmount() decimal.Decimal {
	tax := s.Price.Mul(s.TaxRate).Div(decimal.NewFromInt(100))
	return s.Price.Add(tax).Round(2)
}

type GuestDetails struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,min=7,max=20"`
}

func (g *GuestDetails) empty() bool {
	return g == nil || (g.Name == "" && g.Email == "" && g.Phone == "")
}

type Appointment struct {
	ID            uuid.UUID
	BookingID     string
	Date          time.Time // midnight of the calendar day, clinic timezone
	SlotStart     time.Time
	SlotEnd       time.Time
	ServiceID     uuid.UUID
	ServiceName   string
	PatientID     *uuid.UUID
	PatientEmail  string // from the patient's identity token at booking time
	Guest         *GuestDetails
	TotalAmount   decimal.Decimal
	PaymentStatus PaymentStatus
	PaymentRef    string // gateway charge reference, empty when nothing was captured
	Status        AppointmentStatus
	Notes         string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ContactEmail is the email a booking lookup is matched against: the guest
// email, else the patient's.
func (a *Appointment) ContactEmail() string {
	if a.Guest != nil && a.Guest.Email != "" {
		return a.Guest.Email
	}
	return a.PatientEmail
}

// OccupiedSlot is one entry of the availability index.
type OccupiedSlot struct {
	AppointmentID uuid.UUID
	ServiceID     uuid.UUID
	SlotStart     time.Time
	SlotEnd       time.Time
	Status        AppointmentStatus
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type DashboardStats struct {
	Total          int `json:"total"`
	Today          int `json:"today"`
	TodayCompleted int `json:"todayCompleted"`
	Pending        int `json:"pending"`
	Approved       int `json:"approved"`
	Visited        int `json:"visited"`
	Cancelled      int `json:"cancelled"`
	Missed         int `json:"missed"`
	Patients       int `json:"patients"`
}
