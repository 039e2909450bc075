package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_duplicate_total",
		Help: "Total number of order requests short-circuited by an idempotency key",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	DispatchAssignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_assigned_total",
		Help: "Total number of orders assigned to a delivery partner",
	})

	DispatchNoPartnerTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_no_partner_total",
		Help: "Total number of dispatch attempts that found no available partner",
	})

	DispatchConflictTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_conflict_total",
		Help: "Total number of dispatch claims lost to a concurrent assignment",
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of gateway webhooks received",
	}, []string{"provider"})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_rejected_total",
		Help: "Total number of webhooks rejected at the trust boundary",
	}, []string{"reason"})

	WebhooksDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_duplicate_total",
		Help: "Total number of webhook redeliveries short-circuited by the dedupe store",
	})

	PaymentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Total number of payment ledger entries written",
	}, []string{"provider"})

	RoutingCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_calls_total",
		Help: "Total number of outbound routing API calls",
	})

	RoutingThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_throttled_total",
		Help: "Total number of route recomputations skipped by the throttle window",
	})

	RoutingFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_failed_total",
		Help: "Total number of routing API calls that produced no estimate",
	})

	RoutingCallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "routing_call_latency_seconds",
		Help:    "Latency of outbound routing API calls",
		Buckets: prometheus.DefBuckets,
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
