package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsBuilder records per-route request counts and latency.
type MetricsBuilder struct {
	summaryVec *prometheus.SummaryVec
	counterVec *prometheus.CounterVec
	inFlight   prometheus.Gauge
}

func NewMetricsBuilder(reg prometheus.Registerer) *MetricsBuilder {
	f := promauto.With(reg)
	return &MetricsBuilder{
		summaryVec: f.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
				Objectives: map[float64]float64{
					0.5:  0.05,
					0.9:  0.01,
					0.95: 0.005,
					0.99: 0.001,
				},
			},
			[]string{"method", "path", "status_code"},
		),
		counterVec: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served",
		}),
	}
}

// Build labels by chi route pattern so case ids never become label values.
func (b *MetricsBuilder) Build() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			b.inFlight.Inc()
			defer b.inFlight.Dec()

			wrapped := wrapWriter(w)
			next.ServeHTTP(wrapped, r)

			path := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}
			status := strconv.Itoa(wrapped.statusCode)
			b.summaryVec.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
			b.counterVec.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}
