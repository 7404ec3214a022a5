package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesComposedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batches_composed_total",
		Help: "Total number of batch proposals composed",
	}, []string{"base_type"})

	BatchesFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_finalized_total",
		Help: "Total number of batches hard-locked and activated",
	})

	BatchesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_completed_total",
		Help: "Total number of batches completed",
	})

	BatchesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_cancelled_total",
		Help: "Total number of batches cancelled",
	})

	HardLockFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_lock_failures_total",
		Help: "Total number of failed batch hard locks",
	}, []string{"reason"})

	ComposeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_compose_latency_seconds",
		Help:    "Latency of batch composition",
		Buckets: prometheus.DefBuckets,
	})

	HardLockLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hard_lock_latency_seconds",
		Help:    "Latency of batch hard-lock transactions",
		Buckets: prometheus.DefBuckets,
	})

	SoftReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soft_reservations_total",
		Help: "Total number of soft reservations created",
	})

	ReallocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reallocations_total",
		Help: "Total number of soft reservation reallocations",
	})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders fully built",
	})

	StallAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stall_alerts_total",
		Help: "Total number of stall alerts emitted",
	})

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
