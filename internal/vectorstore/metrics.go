package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts transport calls.
	// Labels: operation (query, upsert, delete), transport, status (success, error, not_found)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iapropria",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store transport calls",
		},
		[]string{"operation", "transport", "status"},
	)

	// OperationDuration tracks end-to-end service operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iapropria",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// FallbackTotal counts fallback attempts.
	// Labels: operation, result (success, error)
	FallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iapropria",
			Subsystem: "vectorstore",
			Name:      "fallback_total",
			Help:      "Total number of fallback transport attempts",
		},
		[]string{"operation", "result"},
	)

	// TransportRebuilds counts transports built by the provider.
	TransportRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iapropria",
			Subsystem: "vectorstore",
			Name:      "transport_rebuilds_total",
			Help:      "Total number of transports built for a new configuration snapshot",
		},
	)

	// HealthStatus is 1 when the transport last reported healthy.
	// Labels: transport
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iapropria",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current transport health (1=healthy, 0=unhealthy)",
		},
		[]string{"transport"},
	)
)

func recordOperation(operation, transport string, err error) {
	status := "success"
	switch {
	case err == nil:
	case IsNotFound(err):
		status = "not_found"
	default:
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, transport, status).Inc()
}
