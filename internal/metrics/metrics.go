package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pharmacy/backend/internal/lock"
	"pharmacy/backend/internal/store"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry        *prometheus.Registry
	saleOps         *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	skippedRestores *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.saleOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sales",
		Name:      "operations_total",
		Help:      "Sale operations by outcome.",
	}, []string{"operation", "outcome"})

	m.compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sales",
		Name:      "compensations_total",
		Help:      "Stock restores issued to undo a partially applied sale operation.",
	}, []string{"operation"})

	m.skippedRestores = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "skipped_restores_total",
		Help:      "Restores skipped because the product no longer exists.",
	}, []string{"operation"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	m.registry.MustRegister(
		m.saleOps,
		m.compensations,
		m.skippedRestores,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSale(operation string, err error) {
	if m == nil {
		return
	}
	m.saleOps.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) ObserveCompensation(operation string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveSkippedRestore(operation string) {
	if m == nil {
		return
	}
	m.skippedRestores.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Outcome buckets an operation error into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case store.IsNotFound(err):
		return "not_found"
	case errors.Is(err, store.ErrValidation):
		return "invalid"
	case errors.Is(err, store.ErrConcurrentModification), errors.Is(err, lock.ErrNotObtained):
		return "conflict"
	default:
		return "error"
	}
}
