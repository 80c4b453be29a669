// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "academy_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	PaymentOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_payment_orders_total",
		Help: "Order creation attempts by result.",
	}, []string{"result"})

	PaymentSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_payment_settlements_total",
		Help: "Payment verifications by source and result.",
	}, []string{"source", "result"})

	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_webhooks_total",
		Help: "Gateway webhook deliveries by event and result.",
	}, []string{"event", "result"})

	RealtimeResyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_realtime_resyncs_total",
		Help: "Full reloads performed by realtime mirrors.",
	}, []string{"collection"})

	RealtimeClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "academy_realtime_clients",
		Help: "Connected push clients by collection and transport.",
	}, []string{"collection", "transport"})

	AttendanceBatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "academy_attendance_batch_failures_total",
		Help: "Rows that failed during session creation.",
	})
)

// GinMiddleware records request counts and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
