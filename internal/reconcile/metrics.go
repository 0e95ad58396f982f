package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reconciliation outcomes per transaction type. Outcome is one
// of completed, failed, pending.
type Metrics struct {
	Outcomes      *prometheus.CounterVec
	Compensations prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_outcomes_total",
			Help: "Reconciliation results by transaction type and outcome.",
		}, []string{"type", "outcome"}),
		Compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_compensations_total",
			Help: "Booking settlements that required a compensating refund.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Outcomes, m.Compensations)
	}
	return m
}

func (m *Metrics) outcome(txType, outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(txType, outcome).Inc()
}

func (m *Metrics) compensation() {
	if m == nil {
		return
	}
	m.Compensations.Inc()
}
