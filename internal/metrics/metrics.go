// Package metrics exposes prometheus collectors for payment, refund,
// webhook and worker activity on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry         *prometheus.Registry
	payments         *prometheus.CounterVec
	refunds          prometheus.Counter
	withdrawals      prometheus.Counter
	webhookDelivered *prometheus.CounterVec
	webhookLatency   prometheus.Histogram
	replays          prometheus.Counter
	tasks            *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_payments_total",
			Help: "Payment state transitions by resulting status.",
		}, []string{"status"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settle_refunds_total",
			Help: "Succeeded refunds.",
		}),
		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settle_withdrawals_total",
			Help: "Recorded merchant withdrawals.",
		}),
		webhookDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settle_webhook_delivery_seconds",
			Help:    "Outbound webhook call duration.",
			Buckets: prometheus.DefBuckets,
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settle_idempotent_replays_total",
			Help: "Responses replayed from the idempotency cache.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_tasks_total",
			Help: "Background task attempts by kind and result.",
		}, []string{"kind", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.payments, m.refunds, m.withdrawals, m.webhookDelivered, m.webhookLatency, m.replays, m.tasks,
	)
	return m
}

func (m *Metrics) PaymentTransition(status string) {
	if m != nil {
		m.payments.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) RefundSucceeded() {
	if m != nil {
		m.refunds.Inc()
	}
}

func (m *Metrics) Withdrawal() {
	if m != nil {
		m.withdrawals.Inc()
	}
}

func (m *Metrics) WebhookAttempt(outcome string, took time.Duration) {
	if m != nil {
		m.webhookDelivered.WithLabelValues(outcome).Inc()
		m.webhookLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) IdempotentReplay() {
	if m != nil {
		m.replays.Inc()
	}
}

// Task matches queue.Observer.
func (m *Metrics) Task(kind, result string) {
	if m != nil {
		m.tasks.WithLabelValues(kind, result).Inc()
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
