// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency. Generation can run for minutes.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec

	StreamsActive   prometheus.Gauge
	StreamChunks    prometheus.Counter
	StreamBytes     prometheus.Counter
	StreamOutcomes  *prometheus.CounterVec
	AbortsTotal     *prometheus.CounterVec
	ClientsGoneAway prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inference_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inference_gateway_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds, measured to response headers.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_gateway_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_gateway_upstream_failures_total",
			Help: "Upstream calls that failed before or during the response, by kind.",
		}, []string{"kind"}),

		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_gateway_streams_active",
			Help: "Number of streaming relays currently open.",
		}),

		StreamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_gateway_stream_chunks_total",
			Help: "Chunks relayed to clients on streaming responses.",
		}),

		StreamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_gateway_stream_bytes_total",
			Help: "Bytes relayed to clients on streaming responses.",
		}),

		StreamOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_gateway_stream_outcomes_total",
			Help: "Finished streaming relays by outcome.",
		}, []string{"outcome"}),

		AbortsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_gateway_aborts_total",
			Help: "Abort signals sent to the upstream side channel, by result.",
		}, []string{"result"}),

		ClientsGoneAway: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_gateway_client_disconnects_total",
			Help: "Clients that disconnected before their response completed.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
		m.StreamsActive,
		m.StreamChunks,
		m.StreamBytes,
		m.StreamOutcomes,
		m.AbortsTotal,
		m.ClientsGoneAway,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
// Longer prefixes come first so /v1/chat/completions is not reported as /v1.
var knownPrefixes = []string{
	"/v1/chat/completions",
	"/v1/completions",
	"/v1/embeddings",
	"/v1/models",
	"/generate",
	"/healthz",
	"/gateway",
	"/metrics",
	"/v1",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
