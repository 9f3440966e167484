package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of applied order status transitions",
	}, []string{"status"})

	OrderRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_rejections_total",
		Help: "Total number of rejected order commands",
	}, []string{"operation", "code"})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Total number of accepts rejected for insufficient stock",
	})

	OrderAcceptLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_accept_latency_seconds",
		Help:    "Latency of the accept and stock decrement unit",
		Buckets: prometheus.DefBuckets,
	})

	LinkTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_transitions_total",
		Help: "Total number of salesperson link transitions",
	}, []string{"status"})

	StoreFallbackReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_fallback_reads_total",
		Help: "Total number of reads served by the local store after a remote failure",
	}, []string{"collection"})

	StoreMirrorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_mirror_failures_total",
		Help: "Total number of failed best-effort remote copies",
	}, []string{"collection"})

	NotificationsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_enqueued_total",
		Help: "Total number of notification events enqueued",
	}, []string{"type"})

	NotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Total number of notification failures",
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
