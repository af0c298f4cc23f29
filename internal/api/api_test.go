package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/catalog"
	"github.com/hackgods/clinic-appointments/internal/metrics"
	"github.com/hackgods/clinic-appointments/internal/payment"
)

var (
	testSecret  = []byte("test-secret")
	cleaningID  = catalog.DefaultServices()[0].ID
	fixedNow    = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	bookingDate = "2026-03-12"
)

type testServer struct {
	srv     *httptest.Server
	repo    *appointment.MemoryRepository
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	cat := catalog.NewStaticCatalog(catalog.DefaultServices()...)
	m := metrics.New()
	svc := appointment.NewService(appointment.Deps{
		Repo:     repo,
		Catalog:  cat,
		Payments: payment.NewMockGateway([]string{"tok_decline"}),
		Metrics:  m,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return fixedNow },
	})

	handler := NewRouter(RouterConfig{
		Service:        svc,
		Catalog:        cat,
		Metrics:        m,
		Exporter:       m.Handler(),
		Health:         checks,
		Logger:         zap.NewNop(),
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"*"},
		Env:            "test",
		Version:        "v-test",
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, repo: repo, metrics: m}
}

func token(t *testing.T, role appointment.Role, subject string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, role, subject, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func guestBooking(start, end string) CreateAppointmentRequest {
	return CreateAppointmentRequest{
		Date:      bookingDate,
		SlotStart: start,
		SlotEnd:   end,
		ServiceID: cleaningID.String(),
		Guest: &appointment.GuestDetails{
			Name:  "Asha Rao",
			Email: "asha@example.com",
			Phone: "+919800000000",
		},
	}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func TestCreateAppointment_GuestThenConflict(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/appointments", "", guestBooking("08:00", "09:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	view := decode[appointment.View](t, body)
	assert.Len(t, view.BookingID, 8)
	assert.Equal(t, "550.00", view.TotalAmount)
	assert.Equal(t, appointment.StatusPending, view.Status)
	assert.Equal(t, "08:00", view.SlotStart)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = ts.do(t, http.MethodPost, "/api/appointments", "", guestBooking("08:00", "09:00"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Equal(t, "slot_already_booked", errResp.Error)
	assert.True(t, errResp.Retryable)
}

func TestCreateAppointment_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	past := guestBooking("08:00", "09:00")
	past.Date = "2026-03-01"

	offGrid := guestBooking("08:30", "09:30")

	noParty := guestBooking("10:00", "11:00")
	noParty.Guest = nil

	badEmail := guestBooking("10:00", "11:00")
	badEmail.Guest.Email = "not-an-email"

	unknownService := guestBooking("10:00", "11:00")
	unknownService.ServiceID = uuid.NewString()

	badDate := guestBooking("10:00", "11:00")
	badDate.Date = "12/03/2026"

	tests := []struct {
		name   string
		req    CreateAppointmentRequest
		status int
		code   string
	}{
		{"past date", past, http.StatusUnprocessableEntity, "past_date_rejected"},
		{"slot off the grid", offGrid, http.StatusUnprocessableEntity, "invalid_slot"},
		{"no party", noParty, http.StatusUnprocessableEntity, "invalid_party"},
		{"bad guest email", badEmail, http.StatusUnprocessableEntity, "invalid_party"},
		{"unknown service", unknownService, http.StatusNotFound, "not_found"},
		{"malformed date", badDate, http.StatusBadRequest, "invalid_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/api/appointments", "", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, tt.code, decode[ErrorResponse](t, body).Error)
		})
	}
}

func TestHandleServiceError_RetryHints(t *testing.T) {
	tests := []struct {
		err        error
		status     int
		retryable  bool
		retryOnce  bool
		retryAfter string
	}{
		{appointment.ErrGenerationExhausted, http.StatusServiceUnavailable, false, true, "1"},
		{appointment.ErrStorageTimeout, http.StatusGatewayTimeout, true, false, ""},
		{appointment.ErrForbidden, http.StatusForbidden, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleServiceError(rec, zap.NewNop(), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			resp := decode[ErrorResponse](t, rec.Body.Bytes())
			assert.Equal(t, tt.retryable, resp.Retryable)
			assert.Equal(t, tt.retryOnce, resp.RetryOnce)
		})
	}
}

func TestCreateAppointment_PatientIDFromToken(t *testing.T) {
	ts := newTestServer(t)
	patientID := uuid.New()
	bearer := token(t, appointment.RolePatient, patientID.String())

	req := guestBooking("09:00", "10:00")
	req.Guest = nil
	resp, body := ts.do(t, http.MethodPost, "/api/appointments", bearer, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	view := decode[appointment.View](t, body)
	require.NotNil(t, view.PatientID)
	assert.Equal(t, patientID, *view.PatientID)

	resp, body = ts.do(t, http.MethodGet, "/api/appointments/my-history", bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[AppointmentListResponse](t, body)
	assert.Equal(t, 1, history.Count)

	// Another patient cannot see or cancel it.
	other := token(t, appointment.RolePatient, uuid.NewString())
	resp, _ = ts.do(t, http.MethodGet, "/api/appointments/"+view.ID.String(), other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPut, "/api/appointments/"+view.ID.String()+"/cancel", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPut, "/api/appointments/"+view.ID.String()+"/cancel", bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, appointment.StatusCancelled, decode[appointment.View](t, body).Status)
}

func TestCreateAppointment_PatientTokenEmailAllowsLookup(t *testing.T) {
	ts := newTestServer(t)
	patientID := uuid.New()
	bearer, err := IssuePatientToken(testSecret, patientID, "ravi@example.com", time.Hour)
	require.NoError(t, err)

	req := guestBooking("11:00", "12:00")
	req.Guest = nil
	resp, body := ts.do(t, http.MethodPost, "/api/appointments", bearer, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	view := decode[appointment.View](t, body)
	assert.Equal(t, "ravi@example.com", view.PatientEmail)

	resp, body = ts.do(t, http.MethodPost, "/api/booking/check", "", BookingLookupRequest{
		BookingID: view.BookingID,
		Email:     "RAVI@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, view.ID, decode[appointment.View](t, body).ID)
}

func TestBookingLookupAndCancel(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.do(t, http.MethodPost, "/api/appointments", "", guestBooking("14:00", "15:00"))
	created := decode[appointment.View](t, body)

	resp, body := ts.do(t, http.MethodPost, "/api/booking/check", "", BookingLookupRequest{
		BookingID: created.BookingID,
		Email:     "  ASHA@example.com ",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, created.ID, decode[appointment.View](t, body).ID)

	resp, _ = ts.do(t, http.MethodPost, "/api/booking/check", "", BookingLookupRequest{
		BookingID: created.BookingID,
		Email:     "someone@example.com",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/api/booking/cancel", "", BookingLookupRequest{
		BookingID: created.BookingID,
		Email:     "asha@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, appointment.StatusCancelled, decode[appointment.View](t, body).Status)

	// The slot is free again.
	resp, body = ts.do(t, http.MethodGet, "/api/services/"+cleaningID.String()+"/slots?date="+bookingDate, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, s := range decode[[]SlotResponse](t, body) {
		assert.True(t, s.Available, s.Start)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/booking/cancel", "", BookingLookupRequest{
		BookingID: created.BookingID,
		Email:     "asha@example.com",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, body).Error)
}

func TestAvailabilityAndSlots(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/appointments", "", guestBooking("10:00", "11:00"))

	resp, body := ts.do(t, http.MethodGet, "/api/appointments/availability?date="+bookingDate+"&serviceId="+cleaningID.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	occupied := decode[[]OccupiedSlotResponse](t, body)
	require.Len(t, occupied, 1)
	assert.Equal(t, "10:00", occupied[0].SlotStart)

	resp, body = ts.do(t, http.MethodGet, "/api/services/"+cleaningID.String()+"/slots?date="+bookingDate, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := decode[[]SlotResponse](t, body)
	// 08:00-12:00 and 14:00-17:00 in one-hour steps.
	require.Len(t, slots, 7)
	for _, s := range slots {
		assert.Equal(t, s.Start != "10:00", s.Available, s.Start)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/appointments/availability?date=tomorrow", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminStatusFlow(t *testing.T) {
	ts := newTestServer(t)
	adminToken := token(t, appointment.RoleAdmin, "front-desk")

	_, body := ts.do(t, http.MethodPost, "/api/appointments", "", guestBooking("08:00", "09:00"))
	created := decode[appointment.View](t, body)
	path := "/api/appointments/" + created.ID.String() + "/status"

	resp, _ := ts.do(t, http.MethodPut, path, "", UpdateStatusRequest{Status: "Approved"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	patientToken := token(t, appointment.RolePatient, uuid.NewString())
	resp, _ = ts.do(t, http.MethodPut, path, patientToken, UpdateStatusRequest{Status: "Approved"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, path, adminToken, UpdateStatusRequest{Status: "Done"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPut, path, adminToken, UpdateStatusRequest{Status: "Approved"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	approved := decode[appointment.View](t, body)
	assert.Equal(t, appointment.StatusApproved, approved.Status)
	assert.Greater(t, approved.Version, created.Version)

	resp, body = ts.do(t, http.MethodPut, path, adminToken, UpdateStatusRequest{Status: "Pending"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, body).Error)

	resp, body = ts.do(t, http.MethodGet, "/api/appointments?date="+bookingDate, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[AppointmentListResponse](t, body).Count)

	resp, body = ts.do(t, http.MethodGet, "/api/dashboard/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[appointment.DashboardStats](t, body)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Patients)

	resp, body = ts.do(t, http.MethodGet, "/api/dashboard/recent?limit=5", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[AppointmentListResponse](t, body).Count)
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	ts := newTestServer(t)

	forged, err := IssueToken([]byte("other-secret"), appointment.RoleAdmin, "x", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, appointment.RoleAdmin, "x", -time.Minute)
	require.NoError(t, err)
	badSubject := token(t, appointment.RolePatient, "not-a-uuid")

	for name, tok := range map[string]string{"forged": forged, "expired": expired, "bad subject": badSubject} {
		t.Run(name, func(t *testing.T) {
			resp, _ := ts.do(t, http.MethodGet, "/api/services", tok, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestListServices(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/services", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	services := decode[[]ServiceResponse](t, body)
	require.Len(t, services, len(catalog.DefaultServices()))
	for _, s := range services {
		if s.ID == cleaningID {
			assert.Equal(t, "550.00", s.TotalAmount)
			assert.Equal(t, 60, s.DurationMinutes)
		}
	}
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	t.Run("degraded on optional dependency", func(t *testing.T) {
		ts := newTestServer(t,
			HealthCheck{Name: "postgres", Critical: true, Ping: ok},
			HealthCheck{Name: "redis", Ping: down},
		)
		resp, body := ts.do(t, http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		ready := decode[ReadinessResponse](t, body)
		assert.Equal(t, "degraded", ready.Status)
		assert.Equal(t, "down", ready.Dependencies["redis"])
	})

	t.Run("error on critical dependency", func(t *testing.T) {
		ts := newTestServer(t, HealthCheck{Name: "postgres", Critical: true, Ping: down})
		resp, _ := ts.do(t, http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		resp, body := ts.do(t, http.MethodGet, "/health/live", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "v-test", decode[LivenessResponse](t, body).Version)
	})
}

func TestMetricsEndpointUsesRoutePatterns(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/services/"+cleaningID.String()+"/slots?date="+bookingDate, "", nil)

	resp, body := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `route="/api/services/{id}/slots"`)
	assert.NotContains(t, string(body), cleaningID.String())
}
