package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks exercise activity across the gateway and modules.
type SettlementMetrics struct {
	exercises *prometheus.CounterVec
	payments  *prometheus.CounterVec
	credits   *prometheus.GaugeVec
	claims    *prometheus.CounterVec
}

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			exercises: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otoken",
				Subsystem: "settlement",
				Name:      "exercises_total",
				Help:      "Total exercise attempts segmented by module and outcome.",
			}, []string{"module", "outcome"}),
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otoken",
				Subsystem: "settlement",
				Name:      "payment_wei_total",
				Help:      "Cumulative payment volume collected per module, in wei.",
			}, []string{"module"}),
			credits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "otoken",
				Subsystem: "settlement",
				Name:      "credit_outstanding_wei",
				Help:      "Underlying value owed but undelivered per module, in wei.",
			}, []string{"module"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otoken",
				Subsystem: "settlement",
				Name:      "credit_claims_total",
				Help:      "Credit claims settled per module.",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			settlementReg.exercises,
			settlementReg.payments,
			settlementReg.credits,
			settlementReg.claims,
		)
	})
	return settlementReg
}

// ObserveExercise records one exercise attempt and, on success, its payment
// volume. Payment precision above float64 is acceptable for monitoring.
func (m *SettlementMetrics) ObserveExercise(module string, err error, payment *big.Int) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.exercises.WithLabelValues(module, outcome).Inc()
	if err == nil && payment != nil {
		f, _ := new(big.Float).SetInt(payment).Float64()
		m.payments.WithLabelValues(module).Add(f)
	}
}

// SetCreditOutstanding publishes the current credit backlog for a module.
func (m *SettlementMetrics) SetCreditOutstanding(module string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.credits.WithLabelValues(module).Set(f)
}

// RecordClaim counts one settled credit claim.
func (m *SettlementMetrics) RecordClaim(module string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	m.claims.WithLabelValues(module).Inc()
}
