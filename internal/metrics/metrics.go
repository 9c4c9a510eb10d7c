package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics holds every collector of the settlement core on its own registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	checkouts           *prometheus.CounterVec
	checkoutDuration    prometheus.Histogram
	webhooks            *prometheus.CounterVec
	ledgerOps           *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
	stockAlerts         *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	providerCalls       *prometheus.HistogramVec
	sweeperReleased     prometheus.Counter
	sweeperUnresolved   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "requests_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		checkoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "duration_seconds",
			Help:    "Checkout latency including the provider initialize call.",
			Buckets: prometheus.DefBuckets,
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "events_total",
			Help: "Provider webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "operations_total",
			Help: "Inventory ledger entries by kind.",
		}, []string{"kind"}),
		invariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "invariant_violations_total",
			Help: "Commit or release attempts exceeding the reserved quantity.",
		}, []string{"kind"}),
		stockAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "stock_alerts_total",
			Help: "Low-stock and back-in-stock alerts by event type.",
		}, []string{"event_type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "transitions_total",
			Help: "Committed order transitions by target status.",
		}, []string{"status", "payment_status"}),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "payment", Name: "provider_call_seconds",
			Help:    "Payment provider API latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "operation", "outcome"}),
		sweeperReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "resolved_total",
			Help: "Expired holds resolved by the sweeper.",
		}),
		sweeperUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "unresolved_total",
			Help: "Holds still unresolved after the alert threshold.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkouts, m.checkoutDuration, m.webhooks, m.ledgerOps, m.invariantViolations, m.stockAlerts,
		m.transitions, m.providerCalls, m.sweeperReleased, m.sweeperUnresolved,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Checkout(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
	m.checkoutDuration.Observe(seconds)
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) LedgerOp(kind string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(kind).Inc()
}

func (m *Metrics) InvariantViolation(kind string) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) StockAlert(eventType string) {
	if m == nil {
		return
	}
	m.stockAlerts.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Transition(status, paymentStatus string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, paymentStatus).Inc()
}

func (m *Metrics) ProviderCall(provider, operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation, outcome).Observe(seconds)
}

func (m *Metrics) SweeperResolved(n int) {
	if m == nil {
		return
	}
	m.sweeperReleased.Add(float64(n))
}

func (m *Metrics) SweeperUnresolved() {
	if m == nil {
		return
	}
	m.sweeperUnresolved.Inc()
}
