// Package metrics exposes Prometheus instrumentation for the reconciler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/events"
)

// Metrics owns a private registry so several instances can coexist.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	errors          *prometheus.CounterVec
	confirmedAmount prometheus.Counter
	webhooks        *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pbt_events_total",
			Help: "Lifecycle events published, labeled by signal",
		}, []string{"signal"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pbt_errors_total",
			Help: "Errors published on the error channel, labeled by kind",
		}, []string{"kind"}),
		confirmedAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "pbt_confirmed_amount_minor_total",
			Help: "Sum of confirmed session amounts in minor units",
		}),
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pbt_webhooks_total",
			Help: "Webhook deliveries, labeled by provider and outcome",
		}, []string{"provider", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pbt_http_requests_total",
			Help: "Total HTTP requests processed, labeled by status code",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pbt_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

// Attach counts every event published on bus.
func (m *Metrics) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(m.observe)
}

func (m *Metrics) observe(evt events.Event) {
	m.events.WithLabelValues(string(evt.Signal)).Inc()
	switch evt.Signal {
	case events.Error:
		m.errors.WithLabelValues(domain.ErrorKind(evt.Err)).Inc()
	case events.PaymentConfirmed:
		if evt.Session != nil {
			m.confirmedAmount.Add(float64(evt.Session.Amount))
		}
	}
}

// TrackPending exports the current number of pending sessions as reported
// by count.
func (m *Metrics) TrackPending(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pbt_pending_sessions",
		Help: "Sessions currently awaiting payment",
	}, func() float64 { return float64(count()) })
}

// ObserveWebhook counts one webhook delivery.
func (m *Metrics) ObserveWebhook(provider, outcome string) {
	m.webhooks.WithLabelValues(provider, outcome).Inc()
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
