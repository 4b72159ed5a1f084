package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors holds the daemon's exported Prometheus metrics.
type PrometheusCollectors struct {
	RequestsTotal   prometheus.Counter
	ErrorsTotal     prometheus.Counter
	DeniedTotal     prometheus.Counter
	ClientsActive   prometheus.Gauge
	QueueDepth      prometheus.Gauge
	LastRequestUnix prometheus.Gauge
}

// register registers c, or returns the already-registered collector if
// InitPrometheus is called more than once for the same namespace (tests
// reattach a fresh Collector per case against the shared registry).
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(T)
		}
	}
	return c
}

// InitPrometheus creates and registers the daemon's metric set under
// namespace.
func InitPrometheus(namespace string) *PrometheusCollectors {
	return &PrometheusCollectors{
		RequestsTotal: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests dispatched.",
		})),
		ErrorsTotal: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of requests that failed for a reason other than authorization denial.",
		})),
		DeniedTotal: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denied_total",
			Help:      "Total number of requests denied by the authorization bridge.",
		})),
		ClientsActive: register(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_active",
			Help:      "Number of currently connected clients.",
		})),
		QueueDepth: register(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_queue_depth",
			Help:      "Number of requests parked awaiting authorization answers.",
		})),
		LastRequestUnix: register(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_request_timestamp_seconds",
			Help:      "Unix timestamp of the last dispatched request.",
		})),
	}
}
