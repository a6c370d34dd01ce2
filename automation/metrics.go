package automation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters to Prometheus. All fields are optional
// from the engine's point of view; a nil *Metrics disables instrumentation.
type Metrics struct {
	ExecutionsTotal  *prometheus.CounterVec
	SkippedTotal     *prometheus.CounterVec
	RetriesScheduled prometheus.Counter
	InFlight         prometheus.Gauge
	EventsHandled    prometheus.Counter
}

// NewMetrics creates and registers engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Terminal executions by status.",
		}, []string{"status"}),
		SkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "skipped_total",
			Help:      "Skipped executions by reason.",
		}, []string{"reason"}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "retries_scheduled_total",
			Help:      "Retry attempts scheduled after failures.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "in_flight_executions",
			Help:      "Executions currently dispatched to the skill router.",
		}),
		EventsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automaton",
			Subsystem: "engine",
			Name:      "events_handled_total",
			Help:      "Events processed by the engine.",
		}),
	}
	reg.MustRegister(m.ExecutionsTotal, m.SkippedTotal, m.RetriesScheduled, m.InFlight, m.EventsHandled)
	return m
}

func (m *Metrics) recordExecution(status ExecutionStatus) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) recordSkip(reason string) {
	if m == nil {
		return
	}
	m.SkippedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordRetry() {
	if m == nil {
		return
	}
	m.RetriesScheduled.Inc()
}

func (m *Metrics) inFlightDelta(d float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(d)
}

func (m *Metrics) recordEvent() {
	if m == nil {
		return
	}
	m.EventsHandled.Inc()
}
