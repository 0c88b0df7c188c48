package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	terminalMetricsOnce sync.Once
	terminalRegistry    *TerminalMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP query
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "projectledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total query API requests segmented by module and route.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "projectledger",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total query API errors segmented by module, route, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "projectledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for query API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "projectledger",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of query API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// TerminalMetrics captures payment terminal activity.
type TerminalMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	volume     *prometheus.CounterVec
	fees       *prometheus.CounterVec
}

// Terminal returns the singleton metrics registry for payment terminals.
func Terminal() *TerminalMetrics {
	terminalMetricsOnce.Do(func() {
		terminalRegistry = &TerminalMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "projectledger",
				Subsystem: "terminal",
				Name:      "operations_total",
				Help:      "Count of terminal operations segmented by operation and outcome code.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "projectledger",
				Subsystem: "terminal",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for terminal operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "projectledger",
				Subsystem: "terminal",
				Name:      "volume_total",
				Help:      "Token volume moved by committed terminal operations, in base units.",
			}, []string{"operation", "token"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "projectledger",
				Subsystem: "terminal",
				Name:      "fees_total",
				Help:      "Protocol fees charged in base units segmented by token and whether they were held.",
			}, []string{"token", "held"}),
		}
		prometheus.MustRegister(
			terminalRegistry.operations,
			terminalRegistry.latency,
			terminalRegistry.volume,
			terminalRegistry.fees,
		)
	})
	return terminalRegistry
}

// RecordOperation records a terminal operation. Outcome is "ok" or the
// stable error code the operation failed with.
func (m *TerminalMetrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordVolume adds amount to the volume counter of the operation.
func (m *TerminalMetrics) RecordVolume(operation, token string, amount *big.Int) {
	if m == nil {
		return
	}
	value := bigToFloat(amount)
	if value <= 0 {
		return
	}
	m.volume.WithLabelValues(operation, labelAsset(token)).Add(value)
}

// RecordFee adds a charged fee.
func (m *TerminalMetrics) RecordFee(token string, amount *big.Int, held bool) {
	if m == nil {
		return
	}
	value := bigToFloat(amount)
	if value <= 0 {
		return
	}
	m.fees.WithLabelValues(labelAsset(token), fmt.Sprintf("%t", held)).Add(value)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
