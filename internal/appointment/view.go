package appointment

import (
	"time"

	"github.com/google/uuid"
)

// View is the wire shape of an appointment, shared by the HTTP API and the
// live feed.
type View struct {
	ID            uuid.UUID         `json:"id"`
	BookingID     string            `json:"bookingId"`
	Date          string            `json:"date"`
	SlotStart     string            `json:"slotStart"`
	SlotEnd       string            `json:"slotEnd"`
	StartsAt      time.Time         `json:"startsAt"`
	EndsAt        time.Time         `json:"endsAt"`
	ServiceID     uuid.UUID         `json:"serviceId"`
	ServiceName   string            `json:"serviceName"`
	PatientID     *uuid.UUID        `json:"patientId,omitempty"`
	PatientEmail  string            `json:"patientEmail,omitempty"`
	Guest         *GuestDetails     `json:"guest,omitempty"`
	TotalAmount   string            `json:"totalAmount"`
	PaymentStatus PaymentStatus     `json:"paymentStatus"`
	Status        AppointmentStatus `json:"status"`
	Notes         string            `json:"notes,omitempty"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func (a Appointment) View() View {
	return View{
		ID:            a.ID,
		BookingID:     a.BookingID,
		Date:          a.Date.Format(DateFormat),
		SlotStart:     a.SlotStart.Format(TimeFormat),
		SlotEnd:       a.SlotEnd.Format(TimeFormat),
		StartsAt:      a.SlotStart,
		EndsAt:        a.SlotEnd,
		ServiceID:     a.ServiceID,
		ServiceName:   a.ServiceName,
		PatientID:     a.PatientID,
		PatientEmail:  a.PatientEmail,
		Guest:         a.Guest,
		TotalAmount:   a.TotalAmount.StringFixed(2),
		PaymentStatus: a.PaymentStatus,
		Status:        a.Status,
		Notes:         a.Notes,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func Views(list []Appointment) []View {
	out := make([]View, 0, len(list))
	for _, a := range list {
		out = append(out, a.View())
	}
	return out
}
