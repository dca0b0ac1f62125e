// Package observability adapts the teacher's struct-of-gauges/histograms
// MetricsManager idiom (internal/observability/metrics.go) away from
// server-fleet metrics (servers connected/quarantined, Docker containers,
// actor state transitions) to the sandbox execution metrics this module's
// components actually produce: executions, RPC dispatches, admission
// pressure, result-cache effectiveness, and capability-registry size.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages this module's Prometheus metrics.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime prometheus.Gauge

	// Executor Facade metrics
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	executionsInFlight prometheus.Gauge

	// RPC Bridge metrics
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	redactions   *prometheus.CounterVec

	// Resource Limiter metrics
	limiterRejections *prometheus.CounterVec
	reservedMemoryMb  prometheus.Gauge

	// Result cache metrics
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheEntries prometheus.Gauge

	// Capability Registry metrics
	capabilitiesTotal prometheus.Gauge
}

// NewMetricsManager creates a new metrics manager.
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics.
func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandboxrt_uptime_seconds",
		Help: "Time since the executor process started",
	})

	mm.executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxrt_executions_total",
			Help: "Total number of executions, by path and outcome",
		},
		[]string{"path", "status"}, // path: isolate|subprocess; status: success|error|timeout
	)

	mm.executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxrt_execution_duration_seconds",
			Help:    "Execution duration in seconds, by path",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"path"},
	)

	mm.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandboxrt_executions_in_flight",
		Help: "Number of executions currently holding a resource limiter token",
	})

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxrt_tool_calls_total",
			Help: "Total number of RPC Bridge tool dispatches",
		},
		[]string{"server", "tool", "status"},
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxrt_tool_call_duration_seconds",
			Help:    "RPC Bridge dispatch duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"server", "tool", "status"},
	)

	mm.redactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxrt_trace_redactions_total",
			Help: "Total number of trace events redacted by the sensitive-data detector",
		},
		[]string{"category"},
	)

	mm.limiterRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxrt_limiter_rejections_total",
			Help: "Total number of admission rejections, by kind",
		},
		[]string{"kind"}, // kind: concurrency|memory
	)

	mm.reservedMemoryMb = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandboxrt_limiter_reserved_memory_mb",
		Help: "Memory currently reserved by admitted executions",
	})

	mm.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandboxrt_result_cache_hits_total",
		Help: "Total number of subprocess-path result cache hits",
	})

	mm.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandboxrt_result_cache_misses_total",
		Help: "Total number of subprocess-path result cache misses",
	})

	mm.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandboxrt_result_cache_entries",
		Help: "Current number of entries in the result cache",
	})

	mm.capabilitiesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandboxrt_capabilities_total",
		Help: "Total number of registered capabilities",
	})
}

// registerMetrics registers all metrics with the registry.
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.executionsTotal,
		mm.executionDuration,
		mm.executionsInFlight,
		mm.toolCalls,
		mm.toolDuration,
		mm.redactions,
		mm.limiterRejections,
		mm.reservedMemoryMb,
		mm.cacheHits,
		mm.cacheMisses,
		mm.cacheEntries,
		mm.capabilitiesTotal,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetUptime sets the uptime metric.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordExecution records one completed Executor.Execute/ExecuteWithTools call.
func (mm *MetricsManager) RecordExecution(path, status string, duration time.Duration) {
	mm.executionsTotal.WithLabelValues(path, status).Inc()
	mm.executionDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// SetExecutionsInFlight sets the current resource-limiter occupancy.
func (mm *MetricsManager) SetExecutionsInFlight(n int) {
	mm.executionsInFlight.Set(float64(n))
}

// RecordToolCall records one RPC Bridge dispatch.
func (mm *MetricsManager) RecordToolCall(server, tool, status string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(server, tool, status).Inc()
	mm.toolDuration.WithLabelValues(server, tool, status).Observe(duration.Seconds())
}

// RecordRedaction records one trace-event redaction by detected category.
func (mm *MetricsManager) RecordRedaction(category string) {
	mm.redactions.WithLabelValues(category).Inc()
}

// RecordLimiterRejection records one admission rejection.
func (mm *MetricsManager) RecordLimiterRejection(kind string) {
	mm.limiterRejections.WithLabelValues(kind).Inc()
}

// SetReservedMemoryMb sets the resource limiter's current memory reservation.
func (mm *MetricsManager) SetReservedMemoryMb(mb int) {
	mm.reservedMemoryMb.Set(float64(mb))
}

// RecordCacheHit/RecordCacheMiss record one result-cache lookup outcome.
func (mm *MetricsManager) RecordCacheHit()  { mm.cacheHits.Inc() }
func (mm *MetricsManager) RecordCacheMiss() { mm.cacheMisses.Inc() }

// SetCacheEntries sets the current result-cache entry count.
func (mm *MetricsManager) SetCacheEntries(n int) {
	mm.cacheEntries.Set(float64(n))
}

// SetCapabilitiesTotal sets the current capability registry size.
func (mm *MetricsManager) SetCapabilitiesTotal(n int) {
	mm.capabilitiesTotal.Set(float64(n))
}

// Registry returns the Prometheus registry for custom metrics.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// StatsUpdater is implemented by components that can push their own point-in-time stats.
type StatsUpdater interface {
	UpdateMetrics(mm *MetricsManager)
}

// UpdateFromStatsProvider updates metrics from a stats provider.
func (mm *MetricsManager) UpdateFromStatsProvider(provider StatsUpdater) {
	provider.UpdateMetrics(mm)
}
