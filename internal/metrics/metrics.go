// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicecall"

var (
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms currently alive.",
	})
	Peers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "room_peers",
		Help:      "Peers joined to a room.",
	})
	Producers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "producers",
		Help:      "Live producers across all rooms.",
	})
	Consumers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "consumers",
		Help:      "Live consumers across all rooms.",
	})
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "signal_connections",
		Help:      "Open signaling connections.",
	})

	// SignalRequests counts handled requests by type and result code.
	SignalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_requests_total",
		Help:      "Signaling requests handled.",
	}, []string{"type", "code"})

	SignalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "signal_request_seconds",
		Help:      "Time spent handling a signaling request.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"type"})

	CallEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_events_total",
		Help:      "Relayed call signaling events.",
	}, []string{"event"})

	Kicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backpressure_kicks_total",
		Help:      "Peers disconnected because their send buffer was full.",
	})
)
