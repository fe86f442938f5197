/*
metrics.go - Prometheus counters for the engine's hot paths

Nil-safe: a nil *Metrics disables instrumentation, so tests and embedded
uses don't need a registry.
*/
package loyalty

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments redemptions, optimistic conflicts, and scan
// resolution outcomes.
type Metrics struct {
	redemptions *prometheus.CounterVec
	conflicts   prometheus.Counter
	resolutions *prometheus.CounterVec
}

// NewMetrics registers the engine's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by outcome (applied, ineligible, error).",
		}, []string{"outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "redeem_conflicts_total",
			Help:      "Optimistic-concurrency conflicts observed on the redeem path.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "scan_resolutions_total",
			Help:      "Scan resolutions by matching strategy (or 'none').",
		}, []string{"strategy"}),
	}
	reg.MustRegister(m.redemptions, m.conflicts, m.resolutions)
	return m
}

func (m *Metrics) countRedemption(outcome string) {
	if m != nil {
		m.redemptions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) countConflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Metrics) countResolution(strategy string) {
	if m != nil {
		m.resolutions.WithLabelValues(strategy).Inc()
	}
}
