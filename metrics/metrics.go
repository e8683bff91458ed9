// Package metrics exposes Prometheus collectors for the booking service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics counts use cases and the money they move.
// A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	payments      *prometheus.CounterVec
	paymentAmount *prometheus.CounterVec
	creditRefund  prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "operations_total",
			Help:      "Use case invocations by outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Name:      "operation_duration_seconds",
			Help:      "Latency of use case invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "payments_total",
			Help:      "Payment entries recorded by method",
		}, []string{"method"}),
		paymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "payment_amount_total",
			Help:      "Money recorded by payment method",
		}, []string{"method"}),
		creditRefund: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "credit_refunded_total",
			Help:      "Money returned to user credit balances",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.duration, m.payments, m.paymentAmount, m.creditRefund)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *BookingMetrics) ObservePayment(method string, amount float64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method).Inc()
	m.paymentAmount.WithLabelValues(method).Add(amount)
}

func (m *BookingMetrics) ObserveCreditRefund(amount float64) {
	if m == nil {
		return
	}
	m.creditRefund.Add(amount)
}
