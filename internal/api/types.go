package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

const maxBodyBytes = 1 << 20

type CreateAppointmentRequest struct {
	Date         string                    `json:"date"`
	SlotStart    string                    `json:"slotStart"`
	SlotEnd      string                    `json:"slotEnd"`
	ServiceID    string                    `json:"serviceId"`
	Guest        *appointment.GuestDetails `json:"guest,omitempty"`
	Notes        string                    `json:"notes,omitempty"`
	PaymentToken string                    `json:"paymentToken,omitempty"`
}

// BookingLookupRequest is the guest proof of ownership: booking id plus the
// email used at booking time.
type BookingLookupRequest struct {
	BookingID string `json:"bookingId"`
	Email     string `json:"email"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ServiceResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	Location        *string   `json:"location,omitempty"`
	Price           string    `json:"price"`
	TaxRate         string    `json:"taxRate"`
	TotalAmount     string    `json:"totalAmount"`
	DurationMinutes int       `json:"durationMinutes"`
}

func toServiceResponse(s appointment.ServiceInfo) ServiceResponse {
	return ServiceResponse{
		ID:              s.ID,
		Name:            s.Name,
		Category:        s.Category,
		Location:        s.Location,
		Price:           s.Price.StringFixed(2),
		TaxRate:         s.TaxRate.String(),
		TotalAmount:     s.TotalAmount().StringFixed(2),
		DurationMinutes: s.DurationMinutes,
	}
}

type SlotResponse struct {
	Start     string    `json:"start"`
	End       string    `json:"end"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Available bool      `json:"available"`
}

// OccupiedSlotResponse leaves out the appointment id; the index is public.
type OccupiedSlotResponse struct {
	ServiceID uuid.UUID                     `json:"serviceId"`
	SlotStart string                        `json:"slotStart"`
	SlotEnd   string                        `json:"slotEnd"`
	StartsAt  time.Time                     `json:"startsAt"`
	EndsAt    time.Time                     `json:"endsAt"`
	Status    appointment.AppointmentStatus `json:"status"`
}

type AppointmentListResponse struct {
	Appointments []appointment.View `json:"appointments"`
	Count        int                `json:"count"`
}

func toListResponse(list []appointment.Appointment) AppointmentListResponse {
	return AppointmentListResponse{Appointments: appointment.Views(list), Count: len(list)}
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RetryOnce bool   `json:"retryOnce,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}
