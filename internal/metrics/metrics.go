package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "order_operations_total",
			Help:      "Order workflow operations by outcome.",
		},
		[]string{"operation", "status"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "jobs_processed_total",
			Help:      "Queue jobs by kind and result (ok, retry, failed).",
		},
		[]string{"kind", "result"},
	)

	sideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effects that failed (cache, queue, events, notifications).",
		},
		[]string{"kind"},
	)

	refundsRequired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "payments_refund_required_total",
		Help:      "Payments confirmed for orders that were already cancelled.",
	})
)

// RecordOrderOperation counts one workflow call.
func RecordOrderOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	orderOperations.WithLabelValues(operation, status).Inc()
}

func RecordJob(kind, result string) { jobsProcessed.WithLabelValues(kind, result).Inc() }

func RecordSideEffectFailure(kind string) { sideEffectFailures.WithLabelValues(kind).Inc() }

func RecordRefundRequired() { refundsRequired.Inc() }

// Middleware records request count and latency labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler { return promhttp.Handler() }
