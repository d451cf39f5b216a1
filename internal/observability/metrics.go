package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idverify",
		Name:      "verifications_total",
		Help:      "Total number of completed verification attempts by outcome",
	}, []string{"outcome"})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "idverify",
		Name:      "sessions_created_total",
		Help:      "Total number of verification sessions created",
	})

	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "idverify",
		Name:      "sessions_expired_total",
		Help:      "Total number of sessions removed by TTL expiry",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "idverify",
		Name:      "active_sessions",
		Help:      "Number of sessions currently awaiting a live capture",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "idverify",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "idverify",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "idverify",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
