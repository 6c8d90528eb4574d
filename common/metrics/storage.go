package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes used as the status label
const (
	StatusSuccess       = "success"
	StatusQuotaExceeded = "quota_exceeded"
	StatusError         = "error"
)

// StorageMetrics observes storage engine operations.
type StorageMetrics interface {
	// RecordOperation records a completed operation (create, get, delete, update, ...)
	// with its duration and outcome status.
	RecordOperation(operation string, duration time.Duration, status string)

	// RecordBytes records the payload size accepted or returned by an operation.
	RecordBytes(operation string, n int)

	// RecordPin records a pin or unpin against the content backend.
	RecordPin(action string, err error)
}

type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	pinsTotal         *prometheus.CounterVec
}

// NewStorageMetrics creates storage metrics on the global registry,
// or a no-op implementation when metrics are disabled.
func NewStorageMetrics() StorageMetrics {
	if !IsEnabled() {
		return NewNoopStorageMetrics()
	}
	return NewStorageMetricsWith(GetRegistry())
}

// NewStorageMetricsWith registers storage metrics on reg
func NewStorageMetricsWith(reg prometheus.Registerer) StorageMetrics {
	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_storage_operations_total",
				Help: "Total number of storage engine operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "vault_storage_operation_duration_seconds",
				Help: "Duration of storage engine operations in seconds",
				Buckets: []float64{
					0.005, // 5ms
					0.025, // 25ms
					0.1,   // 100ms
					0.5,   // 500ms
					1,     // 1s
					5,     // 5s
					30,    // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_storage_bytes_total",
				Help: "Content bytes moved by storage engine operations",
			},
			[]string{"operation"},
		),
		pinsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_pin_operations_total",
				Help: "Pin and unpin calls by outcome",
			},
			[]string{"action", "status"},
		),
	}
}

func (m *storageMetrics) RecordOperation(operation string, duration time.Duration, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *storageMetrics) RecordBytes(operation string, n int) {
	m.bytesTotal.WithLabelValues(operation).Add(float64(n))
}

func (m *storageMetrics) RecordPin(action string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.pinsTotal.WithLabelValues(action, status).Inc()
}

type noopStorageMetrics struct{}

// NewNoopStorageMetrics returns metrics that record nothing
func NewNoopStorageMetrics() StorageMetrics {
	return noopStorageMetrics{}
}

func (noopStorageMetrics) RecordOperation(string, time.Duration, string) {}
func (noopStorageMetrics) RecordBytes(string, int)                       {}
func (noopStorageMetrics) RecordPin(string, error)                       {}
