package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmemo_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatmemo_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatmemo_connections_active",
			Help: "Open websocket connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatmemo_rooms_active",
			Help: "Rooms with at least one viewer",
		},
	)

	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatmemo_messages_published_total",
			Help: "Chat messages persisted and broadcast",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmemo_messages_rejected_total",
			Help: "Chat messages rejected before broadcast",
		},
		[]string{"reason"}, // "empty", "too_long", "not_found", "storage"
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatmemo_broadcast_dropped_total",
			Help: "Outbound events dropped because a connection queue was full",
		},
	)
)
