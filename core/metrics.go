package core

import (
	"github.com/prometheus/client_golang/prometheus"

	"kegbotd/types"
)

// Metrics is a supplemental, non-authoritative observability surface: no
// invariant in the control loop depends on any of these values, they exist
// purely to be scraped.
type Metrics struct {
	Pours           *prometheus.CounterVec
	Ticks           prometheus.Counter
	TickAnomalies   prometheus.Counter
	AuditMismatches prometheus.Counter
	FridgeCycles    *prometheus.CounterVec
	ShortCycles     prometheus.Counter
	LastTempC       prometheus.Gauge
}

// NewMetrics registers every collector against reg and returns the handle
// used to record observations. Pass prometheus.NewRegistry() in tests to
// avoid colliding with the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Pours: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kegbot_pours_total",
			Help: "Completed pours by termination reason.",
		}, []string{"reason"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegbot_flow_ticks_total",
			Help: "Flow sensor ticks accepted into a pour's total.",
		}),
		TickAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegbot_tick_anomalies_total",
			Help: "Flow sensor samples discarded by the tick sanity filter.",
		}),
		AuditMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegbot_flow_audit_mismatches_total",
			Help: "Pour-start audits where last_flow_ticks disagreed with the device reading.",
		}),
		FridgeCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kegbot_fridge_transitions_total",
			Help: "Fridge relay transitions by resulting state.",
		}, []string{"state"}),
		ShortCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegbot_fridge_short_cycle_refusals_total",
			Help: "Fridge on-transitions refused by the anti-short-cycle gate.",
		}),
		LastTempC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kegbot_last_temperature_celsius",
			Help: "Most recently read fridge temperature, in Celsius.",
		}),
	}

	reg.MustRegister(m.Pours, m.Ticks, m.TickAnomalies, m.AuditMismatches, m.FridgeCycles, m.ShortCycles, m.LastTempC)
	return m
}

func (m *Metrics) observePour(reason types.TerminationReason) {
	if m == nil {
		return
	}
	m.Pours.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) observeTicks(n uint32) {
	if m == nil {
		return
	}
	m.Ticks.Add(float64(n))
}

func (m *Metrics) observeTickAnomaly() {
	if m == nil {
		return
	}
	m.TickAnomalies.Inc()
}

func (m *Metrics) observeAuditMismatch() {
	if m == nil {
		return
	}
	m.AuditMismatches.Inc()
}

func (m *Metrics) observeFridgeTransition(state types.FridgeState) {
	if m == nil {
		return
	}
	m.FridgeCycles.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) observeShortCycleRefusal() {
	if m == nil {
		return
	}
	m.ShortCycles.Inc()
}

func (m *Metrics) observeTemperature(c float64) {
	if m == nil {
		return
	}
	m.LastTempC.Set(c)
}
