package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type RouterConfig struct {
	Service  *appointment.Service
	Catalog  ServiceLister
	LiveFeed http.Handler // admin websocket, nil disables the route
	Metrics  HTTPObserver
	Exporter http.Handler // prometheus scrape handler, nil disables /metrics
	Health   []HealthCheck
	Logger   *zap.Logger

	JWTSecret      []byte
	AllowedOrigins []string
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(Instrument(log, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Exporter != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Exporter)
	}

	svc := cfg.Service
	admin := RequireRole(appointment.RoleAdmin)
	patient := RequireRole(appointment.RolePatient)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		// Public
		r.Get("/api/services", listServicesHandler(cfg.Catalog, log))
		r.Get("/api/services/{id}/slots", daySlotsHandler(svc, log))
		r.Get("/api/appointments/availability", availabilityHandler(svc, log))
		r.Post("/api/appointments", createAppointmentHandler(svc, log))
		r.Post("/api/booking/check", checkBookingHandler(svc, log))
		r.Post("/api/booking/cancel", cancelBookingHandler(svc, log))

		// Patient
		r.With(patient).Get("/api/appointments/my-history", myHistoryHandler(svc))
		r.With(patient).Put("/api/appointments/{id}/cancel", cancelMyAppointmentHandler(svc, log))
		r.With(RequireRole(appointment.RoleAdmin, appointment.RolePatient)).
			Get("/api/appointments/{id}", getAppointmentHandler(svc, log))

		// Admin
		r.With(admin).Get("/api/appointments", listAppointmentsHandler(svc, log))
		r.With(admin).Put("/api/appointments/{id}/status", updateStatusHandler(svc, log))
		r.With(admin).Get("/api/dashboard/stats", dashboardStatsHandler(svc))
		r.With(admin).Get("/api/dashboard/recent", recentAppointmentsHandler(svc))
		if cfg.LiveFeed != nil {
			r.With(admin).Method(http.MethodGet, "/ws/appointments", cfg.LiveFeed)
		}
	})

	return r
}
