package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomrelay"

// Disconnect causes.
const (
	CauseClient    = "client"
	CauseHeartbeat = "heartbeat"
	CauseTooLarge  = "too_large"
	CauseTooSlow   = "too_slow"
	CauseShutdown  = "shutdown"
)

type Relay struct {
	connections   prometheus.Gauge
	rooms         prometheus.Gauge
	inbound       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	disconnects   *prometheus.CounterVec
	recipients    prometheus.Counter
	droppedEvents prometheus.Counter
}

func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of registered websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of live rooms.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound frames that passed rate limiting, by envelope type.",
		}, []string{"type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Error envelopes sent to clients, by reason.",
		}, []string{"reason"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connections removed from the registry, by cause.",
		}, []string{"cause"}),
		recipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_recipients_total",
			Help:      "Frames enqueued to room members by broadcasts.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_dropped_total",
			Help:      "Room lifecycle events dropped because the publish queue was full.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.rooms,
		m.inbound,
		m.rejections,
		m.disconnects,
		m.recipients,
		m.droppedEvents,
	)

	return m
}

func (m *Relay) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func (m *Relay) SetRooms(n int) {
	m.rooms.Set(float64(n))
}

func (m *Relay) IncInbound(msgType string) {
	m.inbound.WithLabelValues(msgType).Inc()
}

func (m *Relay) IncRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Relay) IncDisconnect(cause string) {
	m.disconnects.WithLabelValues(cause).Inc()
}

func (m *Relay) AddRecipients(n int) {
	m.recipients.Add(float64(n))
}

func (m *Relay) IncDroppedEvents() {
	m.droppedEvents.Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
