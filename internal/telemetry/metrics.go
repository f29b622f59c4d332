package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration records latency of every HTTP request handled by the
// server's middleware chain, labeled by route and status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "chatproxy",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"method", "route", "status"},
)

// ChatRequestsTotal counts pipeline outcomes by terminal HTTP status.
var ChatRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatproxy",
		Subsystem: "chat",
		Name:      "requests_total",
		Help:      "Total number of chat completion requests by status code.",
	},
	[]string{"status"},
)

// ChatUpstreamFailuresTotal counts upstream-attributable failures by error type.
var ChatUpstreamFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatproxy",
		Subsystem: "chat",
		Name:      "upstream_failures_total",
		Help:      "Total number of failed upstream calls by error type.",
	},
	[]string{"error_type"},
)

// ChatTokensTotal sums recorded tokens by kind; the pipeline records only
// the "total" kind.
var ChatTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatproxy",
		Subsystem: "chat",
		Name:      "tokens_total",
		Help:      "Total number of tokens recorded, by kind.",
	},
	[]string{"kind"},
)

// KeypoolBreakerTransitionsTotal counts circuit-breaker state transitions.
var KeypoolBreakerTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatproxy",
		Subsystem: "keypool",
		Name:      "breaker_transitions_total",
		Help:      "Total number of upstream credential breaker state transitions.",
	},
	[]string{"to"},
)

// NewRegistry builds a Prometheus registry with Go/process collectors plus
// the proxy's own collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		ChatRequestsTotal,
		ChatUpstreamFailuresTotal,
		ChatTokensTotal,
		KeypoolBreakerTransitionsTotal,
	)
	return reg
}
