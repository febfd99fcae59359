// Package metrics provides Prometheus metrics for the chronomesh sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the sync engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Clock synchronization metrics
	syncExchanges       prometheus.Counter
	syncFailures        prometheus.Counter
	measurementsDropped prometheus.Counter
	clockAnomalies      prometheus.Counter
	exchangeRTT         prometheus.Histogram
	deviceOffset        *prometheus.GaugeVec
	deviceQuality       *prometheus.GaugeVec
	registeredDevices   prometheus.Gauge

	// Broadcast and liveness metrics
	broadcastsSent    prometheus.Counter
	broadcastFailures prometheus.Counter
	ackTimeouts       prometheus.Counter
	heartbeatMisses   prometheus.Counter
	unhealthyDevices  prometheus.Gauge

	// Coordination metrics
	sessionsTotal      *prometheus.CounterVec
	sessionTimingError prometheus.Histogram
	electionFailures   prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "chronomesh",
		subsystem: "sync",
		// Buckets tuned for tens-of-milliseconds-class timing, in seconds.
		histogramBuckets: []float64{.0005, .001, .0025, .005, .01, .02, .05, .1, .25, .5, 1},
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() {
	factory := promauto.With(m.registry)

	m.syncExchanges = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "exchanges_total",
		Help:      "Total completed four-timestamp sync exchanges.",
	})
	m.syncFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "exchange_failures_total",
		Help:      "Total failed or timed out sync exchanges.",
	})
	m.measurementsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "measurements_dropped_total",
		Help:      "Measurements discarded by the RTT outlier filter.",
	})
	m.clockAnomalies = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "clock_anomalies_total",
		Help:      "Offset jumps exceeding the configured maximum between consecutive estimates.",
	})
	m.exchangeRTT = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "exchange_rtt_seconds",
		Help:      "Round-trip time of sync exchanges.",
		Buckets:   m.histogramBuckets,
	})
	m.deviceOffset = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "device_offset_seconds",
		Help:      "Current estimated clock offset per device.",
	}, []string{"device"})
	m.deviceQuality = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "device_quality",
		Help:      "Current quality level per device (0 unknown, 1 poor .. 4 excellent).",
	}, []string{"device"})
	m.registeredDevices = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "registered_devices",
		Help:      "Number of devices currently registered.",
	})

	m.broadcastsSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "broadcast",
		Name:      "events_total",
		Help:      "Total sync events broadcast to devices.",
	})
	m.broadcastFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "broadcast",
		Name:      "delivery_failures_total",
		Help:      "Per-device delivery failures during broadcast.",
	})
	m.ackTimeouts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "broadcast",
		Name:      "ack_timeouts_total",
		Help:      "Devices that failed to acknowledge within the ack budget.",
	})
	m.heartbeatMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "broadcast",
		Name:      "heartbeat_misses_total",
		Help:      "Missed heartbeats across all devices.",
	})
	m.unhealthyDevices = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "broadcast",
		Name:      "unhealthy_devices",
		Help:      "Devices currently marked unhealthy by heartbeat tracking.",
	})

	m.sessionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "coord",
		Name:      "sessions_total",
		Help:      "Coordinated-start sessions by terminal outcome.",
	}, []string{"outcome"})
	m.sessionTimingError = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "coord",
		Name:      "session_timing_error_seconds",
		Help:      "Spread between earliest and latest reported starts per session.",
		Buckets:   m.histogramBuckets,
	})
	m.electionFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "coord",
		Name:      "election_failures_total",
		Help:      "Master elections that found no quorum.",
	})

	m.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint, method and status code.",
	}, []string{"endpoint", "method", "status"})
	m.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request handling time.",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method"})
}

// GetRegistry returns the custom registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RecordSyncExchange increments the completed sync exchanges counter.
func RecordSyncExchange() { globalManager.syncExchanges.Inc() }

// RecordSyncFailure increments the failed sync exchanges counter.
func RecordSyncFailure() { globalManager.syncFailures.Inc() }

// RecordMeasurementDropped increments the discarded outlier counter.
func RecordMeasurementDropped() { globalManager.measurementsDropped.Inc() }

// RecordClockAnomaly increments the clock anomaly counter.
func RecordClockAnomaly() { globalManager.clockAnomalies.Inc() }

// RecordExchangeRTT records one exchange round trip in seconds.
func RecordExchangeRTT(seconds float64) { globalManager.exchangeRTT.Observe(seconds) }

// UpdateDeviceOffset sets a device's current offset estimate in seconds.
func UpdateDeviceOffset(device string, seconds float64) {
	globalManager.deviceOffset.WithLabelValues(device).Set(seconds)
}

// UpdateDeviceQuality sets a device's current quality level.
func UpdateDeviceQuality(device string, level int) {
	globalManager.deviceQuality.WithLabelValues(device).Set(float64(level))
}

// RemoveDevice drops the per-device gauges of a deregistered device.
func RemoveDevice(device string) {
	globalManager.deviceOffset.DeleteLabelValues(device)
	globalManager.deviceQuality.DeleteLabelValues(device)
}

// UpdateRegisteredDevices sets the registered device count.
func UpdateRegisteredDevices(n int) { globalManager.registeredDevices.Set(float64(n)) }

// RecordBroadcast increments the broadcasts sent counter.
func RecordBroadcast() { globalManager.broadcastsSent.Inc() }

// RecordDeliveryFailure increments the failed deliveries counter.
func RecordDeliveryFailure() { globalManager.broadcastFailures.Inc() }

// RecordAckTimeout increments the ack timeouts counter.
func RecordAckTimeout() { globalManager.ackTimeouts.Inc() }

// RecordHeartbeatMiss increments the missed heartbeats counter.
func RecordHeartbeatMiss() { globalManager.heartbeatMisses.Inc() }

// UpdateUnhealthyDevices sets the unhealthy device count.
func UpdateUnhealthyDevices(n int) { globalManager.unhealthyDevices.Set(float64(n)) }

// RecordSessionOutcome increments the session counter for an outcome.
func RecordSessionOutcome(outcome string) {
	globalManager.sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionTimingError records a session's timing error in seconds.
func RecordSessionTimingError(seconds float64) {
	globalManager.sessionTimingError.Observe(seconds)
}

// RecordElectionFailure increments the failed master elections counter.
func RecordElectionFailure() { globalManager.electionFailures.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method string, seconds float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(seconds)
}
