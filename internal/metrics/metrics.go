package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsConsumed counts status records successfully decoded from the feed.
	RecordsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_records_consumed_total",
		Help: "Total number of status records decoded from the feed",
	})

	// DecodeFailures counts records skipped because they could not be decoded.
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_decode_failures_total",
		Help: "Total number of feed records dropped as undecodable",
	})

	// EventsDelivered counts individual deliveries to attached subscribers.
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_events_delivered_total",
		Help: "Total number of events delivered to subscribers",
	})

	// EventsUnrouted counts events published to a key with no subscribers.
	EventsUnrouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_events_unrouted_total",
		Help: "Total number of events published with no attached subscriber",
	})

	// SinkEvictions counts subscribers detached after a failed delivery.
	SinkEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_sink_evictions_total",
		Help: "Total number of subscribers detached after a delivery failure",
	})

	// ConnectedClients tracks the number of currently attached subscribers.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_connected_clients",
		Help: "Current number of attached WebSocket subscribers",
	})
)
