package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Payment orders created, by provider and outcome",
	}, []string{"provider", "outcome"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_transitions_total",
		Help: "Genuine transaction status transitions, by provider, status and reporting channel",
	}, []string{"provider", "status", "channel"})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Webhook notifications received, by provider and verification result",
	}, []string{"provider", "result"})

	SubscriptionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_subscriptions_created_total",
		Help: "Deal Room subscriptions created from completed payments",
	}, []string{"provider"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Latency of outbound gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
)
