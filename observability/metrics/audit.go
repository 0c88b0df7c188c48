package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AuditMetrics tracks the event audit log and its exports.
type AuditMetrics struct {
	appended      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	head          prometheus.Gauge
	exports       *prometheus.CounterVec
	streamClients prometheus.Gauge
}

var (
	auditOnce     sync.Once
	auditRegistry *AuditMetrics
)

// Audit returns the singleton audit metrics registry.
func Audit() *AuditMetrics {
	auditOnce.Do(func() {
		auditRegistry = &AuditMetrics{
			appended: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "audit_records_appended_total",
				Help: "Count of audit records appended by event type.",
			}, []string{"type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "audit_append_failures_total",
				Help: "Count of events that could not be written to the audit log.",
			}, []string{"type"}),
			head: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "audit_chain_head_sequence",
				Help: "Sequence number of the latest audit record.",
			}),
			exports: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "audit_exports_total",
				Help: "Number of audit exports produced by format.",
			}, []string{"format"}),
			streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "audit_stream_clients",
				Help: "Number of connected live event stream clients.",
			}),
		}
		prometheus.MustRegister(
			auditRegistry.appended,
			auditRegistry.failures,
			auditRegistry.head,
			auditRegistry.exports,
			auditRegistry.streamClients,
		)
	})
	return auditRegistry
}

func (m *AuditMetrics) ObserveAppend(kind string, sequence uint64) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.appended.WithLabelValues(kind).Inc()
	m.head.Set(float64(sequence))
}

func (m *AuditMetrics) IncAppendFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *AuditMetrics) ObserveExport(format string) {
	if m == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	m.exports.WithLabelValues(format).Inc()
}

func (m *AuditMetrics) StreamConnected() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

func (m *AuditMetrics) StreamDisconnected() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}
