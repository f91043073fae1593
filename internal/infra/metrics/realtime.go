package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		liveConnections,
		broadcastsDelivered,
		broadcastsDropped,
	)
}

var (
	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_live_connections",
			Help: "Number of currently registered websocket connections.",
		},
	)

	broadcastsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_delivered_total",
			Help: "Payloads accepted into member send queues.",
		},
	)

	// No room label: room keys are conversation ids, an unbounded set.
	broadcastsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_dropped_total",
			Help: "Payloads dropped because a member was gone or saturated.",
		},
	)
)

func ConnectionOpened() { liveConnections.Inc() }
func ConnectionClosed() { liveConnections.Dec() }

func BroadcastDelivered(n int) { broadcastsDelivered.Add(float64(n)) }

func BroadcastDropped() { broadcastsDropped.Inc() }
