package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments owned by the HTTP layer. A fresh
// instance is registered per handler so tests can use private registries.
type metrics struct {
	// chatRequests counts completed /api/chat requests, partitioned by
	// outcome: "ok", "rejected", or "error".
	chatRequests *prometheus.CounterVec

	// httpRequests counts all HTTP requests, partitioned by method, route
	// pattern, and status code.
	httpRequests *prometheus.CounterVec

	// httpDuration records request latency per route pattern.
	httpDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultd",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled, partitioned by method, route, and status.",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vaultd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"method", "route"}),
	}
}

// middleware records request count and latency for every route. The chi
// route pattern keeps label cardinality bounded regardless of path params.
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		m.httpRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		m.httpDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
