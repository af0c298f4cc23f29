// Package metrics exposes Prometheus collectors for the booking workflows,
// the live feed and the HTTP layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

// Metrics holds all application collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Bookings          *prometheus.CounterVec
	BookingDuration   prometheus.Histogram
	Transitions       *prometheus.CounterVec
	BookingIDCollided prometheus.Counter
	EventsDelivered   *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		BookingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "Time spent in the booking workflow",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Committed appointment status changes",
		}, []string{"from", "to"}),
		BookingIDCollided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_id_collisions_total",
			Help:      "Booking ids rejected at insert because another booking took them first",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_delivered_total",
			Help:      "Events queued to dashboard sessions",
		}, []string{"event"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_dropped_total",
			Help:      "Events not delivered to a dashboard session",
		}, []string{"reason"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Bookings,
		m.BookingDuration,
		m.Transitions,
		m.BookingIDCollided,
		m.EventsDelivered,
		m.EventsDropped,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// Handler serves this registry only.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveBooking(outcome string, elapsed time.Duration) {
	m.Bookings.WithLabelValues(outcome).Inc()
	m.BookingDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncBookingIDCollision() { m.BookingIDCollided.Inc() }

func (m *Metrics) EventDelivered(kind string) { m.EventsDelivered.WithLabelValues(kind).Inc() }

func (m *Metrics) EventDropped(reason string) { m.EventsDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
