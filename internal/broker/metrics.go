package broker

import (
	v1 "handoff/contracts/support/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "handoff_connections_open",
			Help: "Currently open broker connections",
		},
		[]string{"transport"}, // "ws" or "longpoll"
	)

	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_frames_total",
			Help: "Total frames processed by the broker",
		},
		[]string{"type", "direction"}, // direction: "in" or "out"
	)

	handoffsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_requests_total",
			Help: "Total hand-off requests published to the queue topic",
		},
	)

	handoffsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_accepts_total",
			Help: "Total hand-off accepts",
		},
	)

	botReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_bot_replies_total",
			Help: "Total bot replies emitted into unclaimed rooms",
		},
	)

	broadcastDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_broadcast_drops_total",
			Help: "Frames dropped during fanout because a member queue was full",
		},
		[]string{"topic_kind"}, // "queue", "room", "other"
	)

	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_rate_limited_total",
			Help: "Connections closed for exceeding the frame rate limit",
		},
	)
)

// kindOf buckets topic names for metric labels to keep cardinality bounded.
func kindOf(topic string) string {
	if topic == v1.QueueTopic {
		return "queue"
	}
	if _, ok := v1.RoomFromTopic(topic); ok {
		return "room"
	}
	return "other"
}
