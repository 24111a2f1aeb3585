// Package metrics собирает метрики Prometheus: HTTP-запросы и побочные эффекты заказов.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics хранит коллекторы и собственный реестр.
type Metrics struct {
	registry  *prometheus.Registry
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Effects   *prometheus.CounterVec
}

// New создаёт и регистрирует коллекторы.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Effects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "order_effects_total",
			Help:      "Order side effects by outcome (applied or skipped by idempotency guard).",
		}, []string{"effect", "outcome"}),
	}

	m.registry.MustRegister(m.Requests, m.LatencyMS, m.Effects)
	return m
}

// RecordEffect учитывает побочный эффект заказа.
func (m *Metrics) RecordEffect(effect string, applied bool) {
	outcome := "skipped"
	if applied {
		outcome = "applied"
	}
	m.Effects.WithLabelValues(effect, outcome).Inc()
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware считает запросы и их длительность по шаблону маршрута chi.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		m.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
