// Package metrics exposes relay counters and gauges to Prometheus.
//
// All recording methods are safe on a nil *Metrics so callers that run
// without instrumentation need no guards.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sigrelay"

// StatsFunc reports the current number of rooms and joined connections.
type StatsFunc func() (rooms, conns int)

type Metrics struct {
	sessions     prometheus.Gauge
	relayed      *prometheus.CounterVec
	authFailures *prometheus.CounterVec
	closes       *prometheus.CounterVec
	dropped      prometheus.Counter
}

// New registers every collector on reg. stats backs the room and member gauges.
func New(reg prometheus.Registerer, stats StatsFunc) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Signaling sessions currently being served, joined or not.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Negotiation messages relayed, by type and delivery mode.",
		}, []string{"type", "mode"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected signaling authentications, by reason.",
		}, []string{"reason"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Server-initiated connection closes, by close code.",
		}, []string{"code"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_drops_total",
			Help:      "Frames a recipient's send queue refused.",
		}),
	}

	rooms := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms with at least one member.",
	}, func() float64 {
		r, _ := stats()
		return float64(r)
	})
	members := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "room_members",
		Help:      "Connections joined to a room.",
	}, func() float64 {
		_, c := stats()
		return float64(c)
	})

	reg.MustRegister(m.sessions, m.relayed, m.authFailures, m.closes, m.dropped, rooms, members)
	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Metrics) Relayed(msgType, mode string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(msgType, mode).Inc()
}

func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Closed(code int) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
