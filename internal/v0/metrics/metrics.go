package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: relay
// - subsystem: session, room, control
//
// Gauges carry current state (rooms, sessions); counters carry cumulative
// events (envelopes pushed, refusals).

var (
	// ActiveSessions tracks the current number of live WebSocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "session",
		Name:      "connections_active",
		Help:      "Current number of live WebSocket sessions",
	})

	// ActiveRooms tracks the current number of open rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of open rooms",
	})

	// EnvelopesPushed counts envelopes pushed into participant histories,
	// labeled by envelope kind.
	EnvelopesPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "envelopes_pushed_total",
		Help:      "Envelopes pushed into participant histories",
	}, []string{"kind"})

	// SessionRefused counts refused session opens, labeled by close cause.
	SessionRefused = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "session",
		Name:      "refused_total",
		Help:      "Session opens refused, by close cause",
	}, []string{"cause"})

	// RoomsCreated counts rooms created via the control plane.
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "control",
		Name:      "rooms_created_total",
		Help:      "Rooms created via the control plane",
	})

	// CreateRefused counts create-room requests refused by the ownership cap.
	CreateRefused = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "control",
		Name:      "create_refused_total",
		Help:      "Create-room requests refused by the per-address cap",
	})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
