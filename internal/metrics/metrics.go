// Package metrics exposes the controller's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the controller collectors. A single instance is
// wired through the orchestrator and the HTTP façade.
type Metrics struct {
	InvocationsTotal  *prometheus.CounterVec
	TriggerFiresTotal prometheus.Counter
	ActivationSeconds *prometheus.HistogramVec
	BlockingWaitSecs  prometheus.Histogram
	InvokersHealthy   prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	RequestSeconds    *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controller_invocations_total",
			Help: "Action invocations by runtime kind, blocking mode and outcome.",
		}, []string{"kind", "blocking", "outcome"}),
		TriggerFiresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "controller_trigger_fires_total",
			Help: "Trigger fire requests accepted.",
		}),
		ActivationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "controller_activation_duration_seconds",
			Help:    "End-to-end activation duration as recorded at finalize.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"kind"}),
		BlockingWaitSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "controller_blocking_wait_seconds",
			Help:    "Time blocking callers spent waiting on results.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		InvokersHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "controller_invokers_healthy",
			Help: "Invokers currently considered healthy.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controller_http_requests_total",
			Help: "HTTP requests by route pattern, method and status class.",
		}, []string{"route", "method", "status"}),
		RequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "controller_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
