// Package metrics exports gateway activity as prometheus collectors.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/presencechat/internal/chat"
)

const namespace = "presencechat"

// Metrics implements chat.Metrics on top of prometheus collectors.
type Metrics struct {
	sessions        prometheus.Gauge
	online          prometheus.Gauge
	claims          *prometheus.CounterVec
	routed          *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	droppedDelivery prometheus.Counter
}

var _ chat.Metrics = (*Metrics)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Connected sessions, identified or not.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identities_online",
			Help:      "Identities currently held in the presence registry.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Identity claims by result.",
		}, []string{"result"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Messages delivered by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages the router refused, by reason.",
		}, []string{"reason"}),
		droppedDelivery: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Frames a session could not accept; the session is closed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.sessions, m.online, m.claims, m.routed, m.rejected, m.droppedDelivery} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// SessionOpened counts a new connection.
func (m *Metrics) SessionOpened() { m.sessions.Inc() }

// SessionClosed counts a finished connection.
func (m *Metrics) SessionClosed() { m.sessions.Dec() }

// Online records how many identities are online.
func (m *Metrics) Online(n int) { m.online.Set(float64(n)) }

// ClaimAccepted counts a successful claim.
func (m *Metrics) ClaimAccepted() { m.claims.WithLabelValues("accepted").Inc() }

// ClaimRejected counts a failed claim under its reason, e.g. "taken".
func (m *Metrics) ClaimRejected(reason string) { m.claims.WithLabelValues(reason).Inc() }

// MessageRouted counts a delivered public or private message.
func (m *Metrics) MessageRouted(kind chat.Kind) { m.routed.WithLabelValues(string(kind)).Inc() }

// MessageRejected counts a message that was refused, under its reason.
func (m *Metrics) MessageRejected(reason string) { m.rejected.WithLabelValues(reason).Inc() }

// DeliveryDropped counts a frame a sink refused.
func (m *Metrics) DeliveryDropped() { m.droppedDelivery.Inc() }
