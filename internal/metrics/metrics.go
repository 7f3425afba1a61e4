package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dankerchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dankerchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dankerchat_http_panics_recovered_total",
			Help: "Handler panics turned into 500 responses",
		},
		[]string{"route"},
	)

	// Realtime metrics
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dankerchat_live_connections",
			Help: "Currently registered realtime connections",
		},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dankerchat_messages_persisted_total",
			Help: "Messages committed by the pipeline",
		},
		[]string{"target_type"},
	)

	SendRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dankerchat_send_rejections_total",
			Help: "Rejected realtime actions by error code",
		},
		[]string{"code"},
	)

	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dankerchat_fanout_deliveries_total",
			Help: "Fanout deliveries by outcome",
		},
		[]string{"outcome"}, // "delivered" or "dropped"
	)

	TypingBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dankerchat_typing_events_total",
			Help: "Typing signals by outcome",
		},
		[]string{"outcome"}, // "broadcast" or "coalesced"
	)

	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dankerchat_persist_latency_seconds",
			Help:    "Time spent committing a message",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Session metrics
	SessionsRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dankerchat_sessions_revoked_total",
			Help: "Sessions revoked",
		},
	)

	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dankerchat_sessions_swept_total",
			Help: "Expired or stale sessions deleted by maintenance",
		},
	)
)
