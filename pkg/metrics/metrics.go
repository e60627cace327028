package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relay traffic
	InboundFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderedmind_inbound_frames_total",
			Help: "Frames received from peers",
		},
		[]string{"namespace"}, // "peer_control", "peer", "internal", "malformed", "unknown", "blocked"
	)

	BusInjections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderedmind_bus_injections_total",
			Help: "Messages injected onto the internal bus",
		},
		[]string{"type"},
	)

	OutboundForwards = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noderedmind_outbound_forwards_total",
			Help: "Bus messages forwarded to peers",
		},
	)

	OutboundDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderedmind_outbound_dropped_total",
			Help: "Bus messages that could not be forwarded",
		},
		[]string{"reason"},
	)

	// Fan-out
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderedmind_broadcast_deliveries_total",
			Help: "Per-peer broadcast deliveries",
		},
		[]string{"result"}, // "ok" or "error"
	)

	PeersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "noderedmind_peers_connected",
			Help: "Currently connected peers",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noderedmind_auth_failures_total",
			Help: "Rejected peer connections",
		},
	)

	// Interactions
	InteractionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderedmind_interaction_outcomes_total",
			Help: "Completed synchronous interactions",
		},
		[]string{"outcome"}, // "success", "failure", "timeout", "canceled"
	)

	InteractionWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "noderedmind_interaction_wait_seconds",
			Help:    "Time spent waiting for a peer response",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
	)
)
