// Package observability provides Prometheus instrumentation for the host bridge.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lcars_os"

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	// Provider subprocess metrics
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	MetricsThrottled prometheus.Counter

	// Comms cache metrics
	CommsCacheHits   prometheus.Counter
	CommsCacheMisses prometheus.Counter

	// Dictation metrics
	DictationStarted  prometheus.Counter
	DictationFinished *prometheus.CounterVec
}

// DefaultMetrics is registered on the default Prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Metrics provider invocations by subcommand and outcome",
		}, []string{"subcommand", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Wall time of metrics provider invocations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"subcommand"}),
		MetricsThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_throttled_total",
			Help:      "Metrics requests answered from the last snapshot by the spawn limiter",
		}),
		CommsCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comms_cache_hits_total",
			Help:      "Comms status requests served from cache",
		}),
		CommsCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comms_cache_misses_total",
			Help:      "Comms status requests that spawned the provider",
		}),
		DictationStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dictation_sessions_started_total",
			Help:      "Dictation helper launches",
		}),
		DictationFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dictation_sessions_finished_total",
			Help:      "Dictation helper exits by outcome",
		}, []string{"outcome"}),
	}
}

// Discard returns metrics registered on a private registry, for tests and tools.
func Discard() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
