// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the leitung transport.
package observability

import "github.com/prometheus/client_golang/prometheus"

// TransportBuckets defines histogram buckets suited for transport request
// latencies, ranging from 1ms to 60s. The upper buckets exist because an
// SSE request's duration is the lifetime of its stream.
var TransportBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leitung_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leitung_request_duration_seconds",
			Help:    "Request duration",
			Buckets: TransportBuckets,
		},
		[]string{"method"},
	)

	// StreamsActive tracks the number of open SSE streams.
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "leitung_streams_active",
			Help: "Open SSE streams",
		},
	)

	// SubscribersActive tracks the number of registered subscribers.
	SubscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "leitung_subscribers_active",
			Help: "Registered subscribers",
		},
	)

	// InboundMessagesTotal counts messages accepted onto the inbound queue.
	InboundMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leitung_inbound_messages_total",
			Help: "Messages accepted for processing",
		},
	)

	// BroadcastsTotal counts broadcast operations.
	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leitung_broadcasts_total",
			Help: "Broadcast operations",
		},
	)

	// BroadcastDropsTotal counts per-subscriber deliveries dropped because
	// the subscriber's outbound queue stayed full past the bounded wait.
	BroadcastDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leitung_broadcast_drops_total",
			Help: "Dropped per-subscriber deliveries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamsActive,
		SubscribersActive,
		InboundMessagesTotal,
		BroadcastsTotal,
		BroadcastDropsTotal,
	)
}
