package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	sessions        prometheus.Gauge
	links           prometheus.Gauge
	commands        *prometheus.CounterVec
	connectAttempts prometheus.Counter
	transportEvents *prometheus.CounterVec
	linksReaped     prometheus.Counter
	eventsDropped   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicerelay",
			Name:      "sessions_active",
			Help:      "Voice sessions currently held in the registry.",
		}),
		links: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicerelay",
			Name:      "links_active",
			Help:      "Client links currently registered.",
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicerelay",
			Name:      "commands_total",
			Help:      "Inbound commands by op and result code.",
		}, []string{"op", "result"}),
		connectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicerelay",
			Name:      "connect_attempts_total",
			Help:      "Voice transport connect attempts submitted.",
		}),
		transportEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicerelay",
			Name:      "transport_events_total",
			Help:      "Voice transport lifecycle events by kind.",
		}, []string{"kind"}),
		linksReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicerelay",
			Name:      "links_reaped_total",
			Help:      "Links terminated for missing a liveness probe.",
		}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicerelay",
			Name:      "events_dropped_total",
			Help:      "Outbound events that could not be delivered.",
		}, []string{"op"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) LinkOpened() {
	if m != nil {
		m.links.Inc()
	}
}

func (m *Metrics) LinkClosed() {
	if m != nil {
		m.links.Dec()
	}
}

func (m *Metrics) Command(op, result string) {
	if m != nil {
		m.commands.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) ConnectAttempt() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) TransportEvent(kind string) {
	if m != nil {
		m.transportEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) LinkReaped() {
	if m != nil {
		m.linksReaped.Inc()
	}
}

func (m *Metrics) EventDropped(op string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(op).Inc()
	}
}
