// Package metrics defines the Prometheus collectors for the chat server core.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatroom"

// Metrics groups the chat server collectors.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	SessionsActive      prometheus.Gauge
	UsersOnline         prometheus.Gauge
	FramesReceived      *prometheus.CounterVec
	MessagesRouted      *prometheus.CounterVec
	DeliveryFailures    prometheus.Counter
	ProtocolErrors      prometheus.Counter
	AuthConflicts       prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests.
//
// Parameters:
//   - reg: The registerer to attach collectors to, or nil
//
// Returns:
//   - The Metrics, or an error if registration fails (e.g. duplicates)
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "TCP connections accepted and handed to a session.",
		}),
		ConnectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "TCP connections closed immediately because the session cap was reached.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions whose read loop is running.",
		}),
		UsersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_online",
			Help:      "Usernames currently registered.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from clients, by message type.",
		}, []string{"type"}),
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Frames queued for delivery by the router, by kind.",
		}, []string{"kind"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Per-recipient sends that failed during routing.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Sessions closed because of a malformed frame.",
		}),
		AuthConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_conflicts_total",
			Help:      "Connect requests rejected because the username was taken.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.ConnectionsAccepted,
		m.ConnectionsRejected,
		m.SessionsActive,
		m.UsersOnline,
		m.FramesReceived,
		m.MessagesRouted,
		m.DeliveryFailures,
		m.ProtocolErrors,
		m.AuthConflicts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordAccepted counts a connection handed to a new session.
func (m *Metrics) RecordAccepted() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionClosed counts a session whose read loop has ended.
func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordRejected counts a connection dropped at the session cap.
func (m *Metrics) RecordRejected() {
	if m == nil {
		return
	}
	m.ConnectionsRejected.Inc()
}

// UnknownFrameType is the single label every unrecognized tag is counted under.
const UnknownFrameType = "Unknown"

// RecordFrame counts a decoded frame of the given type name. Callers pass
// UnknownFrameType for tags outside the protocol so the label set stays fixed.
func (m *Metrics) RecordFrame(typ string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(typ).Inc()
}

// RecordRouted counts n frames queued by the router for kind.
func (m *Metrics) RecordRouted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesRouted.WithLabelValues(kind).Add(float64(n))
}

// RecordDeliveryFailure counts one failed per-recipient send.
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

// RecordProtocolError counts a session dropped for a malformed frame.
func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

// RecordAuthConflict counts a Connect refused because the name was taken.
func (m *Metrics) RecordAuthConflict() {
	if m == nil {
		return
	}
	m.AuthConflicts.Inc()
}

// UserJoined counts a username added to the registry.
func (m *Metrics) UserJoined() {
	if m == nil {
		return
	}
	m.UsersOnline.Inc()
}

// UserLeft counts a username removed from the registry.
func (m *Metrics) UserLeft() {
	if m == nil {
		return
	}
	m.UsersOnline.Dec()
}
