package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics holds the process-wide prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	BookingsCreated prometheus.Counter
	SlotConflicts   prometheus.Counter
	BookingsExpired prometheus.Counter
	WebhookEvents   *prometheus.CounterVec
	SchedulerRuns   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	OutboxPublished prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		BookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserva_bookings_created_total",
			Help: "Pending bookings created through checkout.",
		}),
		SlotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserva_bookings_slot_conflicts_total",
			Help: "Checkout attempts rejected because the slot was taken.",
		}),
		BookingsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserva_bookings_expired_total",
			Help: "Pending bookings failed by the session-expiry sweep.",
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reserva_webhook_events_total",
			Help: "Payment webhook events by provider, type and outcome.",
		}, []string{"provider", "type", "result"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reserva_scheduler_runs_total",
			Help: "Background job runs by job name and result.",
		}, []string{"job", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reserva_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reserva_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserva_domain_events_published_total",
			Help: "Domain events handed to the outbox.",
		}),
	}

	registry.MustRegister(
		m.BookingsCreated,
		m.SlotConflicts,
		m.BookingsExpired,
		m.WebhookEvents,
		m.SchedulerRuns,
		m.HTTPRequests,
		m.HTTPDuration,
		m.OutboxPublished,
	)

	return m
}

var Module = fx.Module("observability",
	fx.Provide(NewMetrics),
	fx.Provide(NewTracerProvider),
)
