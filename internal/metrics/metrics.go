package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Fulfillments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_fulfillments_total",
			Help: "Fulfilled purchases by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	KeyIssuance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_key_issuance_total",
			Help: "Key webhook calls by tier and result",
		},
		[]string{"tier", "result"},
	)

	KeyIssuanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyshop_key_issuance_duration_seconds",
			Help:    "Latency of key webhook calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"tier"},
	)

	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_gateway_calls_total",
			Help: "Outbound payment provider calls by operation and status",
		},
		[]string{"provider", "operation", "status"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_notifications_total",
			Help: "Best effort notifications by kind and result",
		},
		[]string{"kind", "result"},
	)

	VerificationCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_verification_codes_total",
			Help: "Verification code events",
		},
		[]string{"event"},
	)

	Tickets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_ticket_events_total",
			Help: "Ticket lifecycle events",
		},
		[]string{"event"},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyshop_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Result maps an error to the "success"/"failure" label value.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// GinMiddleware records request latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
