package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

// ServiceLister is the catalog surface the public API reads.
type ServiceLister interface {
	ListServices(ctx context.Context) ([]appointment.ServiceInfo, error)
}

func listServicesHandler(cat ServiceLister, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := cat.ListServices(r.Context())
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		resp := make([]ServiceResponse, 0, len(services))
		for _, s := range services {
			resp = append(resp, toServiceResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func daySlotsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		date, ok := dateQuery(w, r, svc)
		if !ok {
			return
		}

		slots, err := svc.DaySlots(r.Context(), date, serviceID)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				Start:     s.Start.String(),
				End:       s.End.String(),
				StartsAt:  s.StartsAt,
				EndsAt:    s.EndsAt,
				Available: s.Available,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := dateQuery(w, r, svc)
		if !ok {
			return
		}

		var serviceID *uuid.UUID
		if raw := r.URL.Query().Get("serviceId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_service_id", "serviceId must be a valid UUID")
				return
			}
			serviceID = &id
		}

		occupied, err := svc.Availability(r.Context(), date, serviceID)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		resp := make([]OccupiedSlotResponse, 0, len(occupied))
		for _, o := range occupied {
			resp = append(resp, OccupiedSlotResponse{
				ServiceID: o.ServiceID,
				SlotStart: o.SlotStart.Format(appointment.TimeFormat),
				SlotEnd:   o.SlotEnd.Format(appointment.TimeFormat),
				StartsAt:  o.SlotStart,
				EndsAt:    o.SlotEnd,
				Status:    o.Status,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		date, err := appointment.ParseDate(req.Date, svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, errStart := appointment.ParseClock(req.SlotStart)
		end, errEnd := appointment.ParseClock(req.SlotEnd)
		if errStart != nil || errEnd != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_time", "slotStart and slotEnd must be HH:MM")
			return
		}
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "serviceId must be a valid UUID")
			return
		}

		create := appointment.CreateRequest{
			Date:         date,
			SlotStart:    start,
			SlotEnd:      end,
			ServiceID:    serviceID,
			Guest:        req.Guest,
			Notes:        req.Notes,
			PaymentToken: req.PaymentToken,
		}
		// The patient id only ever comes from a verified token.
		if actor, err := ActorFrom(r.Context()); err == nil && actor.Role == appointment.RolePatient {
			create.PatientID = actor.PatientID
		create.PatientEmail = actor.Email
		}

		appt, err := svc.CreateAppointment(r.Context(), create)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt.View())
	}
}

func checkBookingHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookingLookupRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.FindByIdentifier(r.Context(), req.BookingID, req.Email)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt.View())
	}
}

func cancelBookingHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookingLookupRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.CancelByIdentifier(r.Context(), req.BookingID, req.Email)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt.View())
	}
}

func myHistoryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		list := svc.FindHistoryForPatient(r.Context(), *actor.PatientID)
		writeJSON(w, http.StatusOK, toListResponse(list))
	}
}

func getAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		actor, _ := ActorFrom(r.Context())

		appt, err := svc.GetAppointment(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt.View())
	}
}

func cancelMyAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		actor, _ := ActorFrom(r.Context())

		appt, err := svc.CancelForPatient(r.Context(), id, *actor.PatientID)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt.View())
	}
}

func listAppointmentsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := svc.Today()
		if r.URL.Query().Get("date") != "" {
			var ok bool
			if date, ok = dateQuery(w, r, svc); !ok {
				return
			}
		}

		list, err := svc.ListForDate(r.Context(), date)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toListResponse(list))
	}
}

func updateStatusHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		target := appointment.AppointmentStatus(req.Status)
		if !target.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+strconv.Quote(req.Status))
			return
		}
		actor, _ := ActorFrom(r.Context())

		appt, err := svc.UpdateStatus(r.Context(), id, target, actor)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt.View())
	}
}

func dashboardStatsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Dashboard(r.Context()))
	}
}

func recentAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit > 100 {
			limit = 100
		}
		writeJSON(w, http.StatusOK, toListResponse(svc.Recent(r.Context(), limit)))
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func dateQuery(w http.ResponseWriter, r *http.Request, svc *appointment.Service) (time.Time, bool) {
	date, err := appointment.ParseDate(r.URL.Query().Get("date"), svc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func handleServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, appointment.ErrPastDateRejected):
		status, code = http.StatusUnprocessableEntity, "past_date_rejected"
	case errors.Is(err, appointment.ErrInvalidParty):
		status, code = http.StatusUnprocessableEntity, "invalid_party"
	case errors.Is(err, appointment.ErrInvalidSlot):
		status, code = http.StatusUnprocessableEntity, "invalid_slot"
	case errors.Is(err, appointment.ErrSlotAlreadyBooked):
		status, code = http.StatusConflict, "slot_already_booked"
	case errors.Is(err, appointment.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_status_transition"
	case errors.Is(err, appointment.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, appointment.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, appointment.ErrGenerationExhausted):
		status, code = http.StatusServiceUnavailable, "booking_id_unavailable"
	case errors.Is(err, appointment.ErrStorageTimeout):
		status, code = http.StatusGatewayTimeout, "storage_timeout"
	}

	details := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		details = "unexpected error"
	}

	retryOnce := appointment.RetryOnce(err)
	if retryOnce {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, ErrorResponse{
		Error:     code,
		Details:   details,
		Retryable: appointment.Retryable(err),
		RetryOnce: retryOnce,
	})
}
