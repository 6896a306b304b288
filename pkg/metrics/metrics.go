// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookMessagesTotal counts inbound customer messages by outcome.
	WebhookMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_messages_total",
			Help: "Inbound WhatsApp messages by processing outcome",
		},
		[]string{"outcome", "reason"},
	)

	// WebhookStatusesTotal counts delivery status callbacks.
	WebhookStatusesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_statuses_total",
			Help: "Delivery status callbacks by status",
		},
		[]string{"status"},
	)

	// SignatureFailuresTotal counts rejected webhook signatures.
	SignatureFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for a bad signature",
		},
	)

	// RepliesTotal counts generated auto-replies by tier.
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_replies_total",
			Help: "Auto-replies generated by reply type",
		},
		[]string{"reply_type"},
	)

	// ReplyDuration tracks time spent generating a reply.
	ReplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auto_reply_duration_seconds",
			Help:    "Reply generation duration",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
		[]string{"reply_type"},
	)

	// DispatchTotal counts outbound sends.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_dispatch_total",
			Help: "Outbound WhatsApp sends by kind and status",
		},
		[]string{"kind", "status"},
	)

	// DispatchDuration tracks Graph API latency.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whatsapp_dispatch_duration_seconds",
			Help:    "WhatsApp Graph API send duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)

	// LLMRequestDuration tracks LLM completion duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// OnboardingTransitionsTotal counts onboarding steps completed.
	OnboardingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_transitions_total",
			Help: "Onboarding answers accepted by step",
		},
		[]string{"step"},
	)

	// PausesExpiredTotal counts pause rows removed by the cleanup job.
	PausesExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_pauses_expired_total",
			Help: "Expired conversation pauses removed",
		},
	)

	// EventsPublishedTotal counts JetStream publishes.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_events_published_total",
			Help: "Reply events published to JetStream",
		},
		[]string{"type", "status"},
	)

	// NATSConnectionEvents counts disconnects, reconnects and async errors.
	NATSConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_connection_events_total",
			Help: "NATS connection state changes",
		},
		[]string{"event"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for an LLM completion.
func RecordLLM(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
	if tokensIn > 0 || tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
		LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// RecordReply records a generated reply.
func RecordReply(replyType string, duration float64) {
	RepliesTotal.WithLabelValues(replyType).Inc()
	ReplyDuration.WithLabelValues(replyType).Observe(duration)
}

// RecordDispatch records an outbound send.
func RecordDispatch(kind, status string, duration float64) {
	DispatchTotal.WithLabelValues(kind, status).Inc()
	DispatchDuration.WithLabelValues(status).Observe(duration)
}

// RecordMessageOutcome records the result of processing one inbound message.
func RecordMessageOutcome(outcome, reason string) {
	WebhookMessagesTotal.WithLabelValues(outcome, reason).Inc()
}
