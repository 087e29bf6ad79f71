package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_comms_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "member_comms_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Delivery metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_comms_messages_sent_total",
			Help: "Total messages persisted",
		},
		[]string{"room_type"}, // "direct" or "group"
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_comms_publish_failures_total",
			Help: "Fan-out publishes that failed; the affected clients heal by polling",
		},
		[]string{"event"},
	)

	NotificationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_comms_notifications_ingested_total",
			Help: "Notification ingest attempts by outcome",
		},
		[]string{"category", "result"},
	)

	TypingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "member_comms_typing_active",
			Help: "Typing entries currently held",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_comms_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Push metrics
	WebsocketClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "member_comms_websocket_clients",
			Help: "Connected websocket clients",
		},
		[]string{"stream"}, // "room" or "feed"
	)
)
