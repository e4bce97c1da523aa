// Package metrics exposes relay counters and gauges to Prometheus. A nil
// *Relay is valid and records nothing, so components can take it optionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Relay holds the collectors shared by the relay components.
type Relay struct {
	online            prometheus.Gauge
	received          prometheus.Counter
	enqueued          prometheus.Counter
	dropped           prometheus.Counter
	batches           prometheus.Counter
	sendFailures      *prometheus.CounterVec
	upstreamState     prometheus.Gauge
	upstreamConnects  prometheus.Counter
	upstreamFailures  prometheus.Counter
	heartbeatFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Relay {
	m := &Relay{
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_subscribers",
			Help:      "Number of registered subscriber connections.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages accepted for fan-out.",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Messages appended to subscriber mailboxes.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages rejected by a full mailbox.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_sent_total",
			Help:      "Batched frames handed to subscriber transports.",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Failed transport sends by path.",
		}, []string{"path"}),
		upstreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_state",
			Help:      "Upstream link state (0 disconnected, 1 connecting, 2 connected).",
		}),
		upstreamConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connects_total",
			Help:      "Successful upstream connections.",
		}),
		upstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connect_failures_total",
			Help:      "Failed upstream connection attempts.",
		}),
		heartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_heartbeat_failures_total",
			Help:      "Heartbeat frames that could not be sent.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.online, m.received, m.enqueued, m.dropped, m.batches, m.sendFailures,
			m.upstreamState, m.upstreamConnects, m.upstreamFailures, m.heartbeatFailures,
		)
	}
	return m
}

// Send failure paths.
const (
	PathBatch     = "batch"
	PathDirect    = "direct"
	PathHeartbeat = "heartbeat"
)

func (m *Relay) SetOnline(n int64) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *Relay) MessageReceived() {
	if m == nil {
		return
	}
	m.received.Inc()
}

func (m *Relay) MessageEnqueued() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *Relay) MessageDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Relay) BatchSent() {
	if m == nil {
		return
	}
	m.batches.Inc()
}

func (m *Relay) SendFailed(path string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(path).Inc()
	if path == PathHeartbeat {
		m.heartbeatFailures.Inc()
	}
}

func (m *Relay) SetUpstreamState(state int) {
	if m == nil {
		return
	}
	m.upstreamState.Set(float64(state))
}

func (m *Relay) UpstreamConnected() {
	if m == nil {
		return
	}
	m.upstreamConnects.Inc()
}

func (m *Relay) UpstreamConnectFailed() {
	if m == nil {
		return
	}
	m.upstreamFailures.Inc()
}
