package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without it in tests.
type Metrics struct {
	reservations  *prometheus.CounterVec
	holds         *prometheus.CounterVec
	callbacks     *prometheus.CounterVec
	fulfillments  *prometheus.CounterVec
	unitsIssued   *prometheus.CounterVec
	redemptions   *prometheus.CounterVec
	invariants    prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capacity_reservations_total",
			Help: "Capacity reserve attempts by outcome.",
		}, []string{"outcome"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holds_transitions_total",
			Help: "Hold status transitions by target status.",
		}, []string{"status"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Payment provider callbacks by outcome.",
		}, []string{"outcome"}),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillments_total",
			Help: "Fulfillment generator runs by outcome.",
		}, []string{"outcome"}),
		unitsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "units_issued_total",
			Help: "Redeemable units written by kind.",
		}, []string{"kind"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Redemption attempts by result.",
		}, []string{"result"}),
		invariants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capacity_invariant_violations_total",
			Help: "Releases that would have driven a counter below zero.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	collectors := []prometheus.Collector{
		m.reservations, m.holds, m.callbacks, m.fulfillments, m.unitsIssued,
		m.redemptions, m.invariants, m.httpRequests, m.httpDurations,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HoldTransition(status string) {
	if m == nil {
		return
	}
	m.holds.WithLabelValues(status).Inc()
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Fulfillment(outcome string) {
	if m == nil {
		return
	}
	m.fulfillments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) UnitsIssued(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsIssued.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Redemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

func (m *Metrics) InvariantViolation() {
	if m == nil {
		return
	}
	m.invariants.Inc()
}

func (m *Metrics) HTTPRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDurations.WithLabelValues(method).Observe(d.Seconds())
}
