package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	gatherer        prometheus.Gatherer
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	sessionsOpened  prometheus.Counter
	sessionsRevoked prometheus.Counter
	signInFailures  prometheus.Counter
	salesCreated    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novapharm",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "novapharm",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "novapharm",
			Name:      "sessions_opened_total",
			Help:      "Sessions issued by sign-up, sign-in or refresh.",
		}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "novapharm",
			Name:      "sessions_revoked_total",
			Help:      "Sessions revoked by sign-out, refresh or password reset.",
		}),
		signInFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "novapharm",
			Name:      "sign_in_failures_total",
			Help:      "Rejected password sign-ins.",
		}),
		salesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "novapharm",
			Name:      "sales_created_total",
			Help:      "Invoices recorded.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.sessionsOpened, m.sessionsRevoked, m.signInFailures, m.salesCreated)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
