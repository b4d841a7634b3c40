package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autopay"

// OperationMetrics records outcomes and latency of lifecycle operations.
type OperationMetrics struct {
	duration   *prometheus.HistogramVec
	outcomes   *prometheus.CounterVec
	recoveries prometheus.Counter
	skipped    prometheus.Counter
}

// NewOperationMetrics registers the lifecycle metrics on the provided registerer.
func NewOperationMetrics(reg prometheus.Registerer) *OperationMetrics {
	if reg == nil {
		return &OperationMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of lifecycle operations in seconds.",
		// ledger confirmations and oracle round trips dominate
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"operation"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_status_total",
		Help:      "Status events emitted per lifecycle operation and phase.",
	}, []string{"operation", "phase"})
	recoveries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "already_verified_recoveries_total",
		Help:      "Verifications that lost the race and recovered from an already-verified rejection.",
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_skipped_records_total",
		Help:      "Records skipped during refresh because the ledger read failed.",
	})
	reg.MustRegister(duration, outcomes, recoveries, skipped)
	return &OperationMetrics{
		duration:   duration,
		outcomes:   outcomes,
		recoveries: recoveries,
		skipped:    skipped,
	}
}

// ObserveDuration records the duration for the named operation.
func (m *OperationMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncStatus counts a status event for the operation.
func (m *OperationMetrics) IncStatus(operation, phase string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(operation), normalizeLabel(phase)).Inc()
}

// IncAlreadyVerifiedRecovery counts an idempotent verification recovery.
func (m *OperationMetrics) IncAlreadyVerifiedRecovery() {
	if m == nil || m.recoveries == nil {
		return
	}
	m.recoveries.Inc()
}

// AddSkippedRecords counts records dropped from a refresh.
func (m *OperationMetrics) AddSkippedRecords(n int) {
	if m == nil || m.skipped == nil || n <= 0 {
		return
	}
	m.skipped.Add(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
