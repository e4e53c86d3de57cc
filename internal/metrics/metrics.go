// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Directions of relayed messages, used as label values.
const (
	DirectionUpstream   = "upstream"   // client to upstream
	DirectionDownstream = "downstream" // upstream to client
)

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec

	PairsActive       prometheus.Gauge
	PairsOpened       prometheus.Counter
	UpgradesRejected  prometheus.Counter
	DialFailures      prometheus.Counter
	MessagesForwarded *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "market_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_relay_upstream_request_duration_seconds",
			Help:    "Upstream REST call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_relay_upstream_responses_total",
			Help: "Total upstream REST responses by method and status code.",
		}, []string{"method", "status_code"}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_relay_upstream_failures_total",
			Help: "Total upstream REST calls that produced no usable JSON body, by reason.",
		}, []string{"reason"}),

		PairsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "market_relay_stream_pairs_active",
			Help: "Number of relay pairs currently open.",
		}),

		PairsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_relay_stream_pairs_opened_total",
			Help: "Total relay pairs created after a successful upgrade.",
		}),

		UpgradesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_relay_stream_upgrades_rejected_total",
			Help: "Total upgrade requests aborted because the path was not relayable.",
		}),

		DialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_relay_stream_dial_failures_total",
			Help: "Total failed upstream stream dials.",
		}),

		MessagesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_relay_stream_messages_forwarded_total",
			Help: "Total stream messages forwarded by direction.",
		}, []string{"direction"}),

		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_relay_stream_messages_dropped_total",
			Help: "Total stream messages dropped because the peer was not open.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
		m.PairsActive,
		m.PairsOpened,
		m.UpgradesRejected,
		m.DialFailures,
		m.MessagesForwarded,
		m.MessagesDropped,
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
var knownPrefixes = []string{"/api/v1", "/api/v3", "/api", "/healthz", "/relay/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
