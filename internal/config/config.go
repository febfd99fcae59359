// Package config defines engine configuration structures and loading hooks.
//
// Conventions:
// - Every tunable is a named field on Config; components never reach for
//   hidden defaults at call sites.
// - Provide New() to build a Config with defaults, Load() to layer file/env.
// - External errors must be wrapped via this package's error helpers.
package config

// Config contains process configuration for the sync engine.
// Durations are expressed in milliseconds so they can be set flatly
// from YAML or environment variables.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP status listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// HistorySize bounds the per-device measurement window.
	HistorySize int `koanf:"history_size"`

	// MeasurementsPerSync is the number of exchanges per sync round.
	MeasurementsPerSync int `koanf:"measurements_per_sync"`

	// MaxRTTMS is the outlier cutoff; measurements above it are discarded.
	MaxRTTMS int `koanf:"max_rtt_ms"`

	// Quality thresholds on offset uncertainty.
	QualityExcellentMS int `koanf:"quality_excellent_ms"`
	QualityGoodMS      int `koanf:"quality_good_ms"`
	QualityFairMS      int `koanf:"quality_fair_ms"`

	// Adaptive resync intervals, selected by current quality.
	ResyncExcellentMS int `koanf:"resync_excellent_ms"`
	ResyncGoodMS      int `koanf:"resync_good_ms"`
	ResyncFairMS      int `koanf:"resync_fair_ms"`
	ResyncPoorMS      int `koanf:"resync_poor_ms"`

	// Failure recovery policy.
	BackoffBaseMS int `koanf:"backoff_base_ms"`
	BackoffCapMS  int `koanf:"backoff_cap_ms"`
	MaxRetries    int `koanf:"max_retries"`

	// ExchangeTimeoutMS bounds one four-timestamp network round trip.
	ExchangeTimeoutMS int `koanf:"exchange_timeout_ms"`

	// AckTimeoutMS bounds ack collection for broadcasts and scheduled starts.
	AckTimeoutMS int `koanf:"ack_timeout_ms"`

	// Heartbeat liveness tracking.
	HeartbeatIntervalMS int `koanf:"heartbeat_interval_ms"`
	HeartbeatMissLimit  int `koanf:"heartbeat_miss_limit"`

	// EventHistorySize bounds the broadcast audit history.
	EventHistorySize int `koanf:"event_history_size"`

	// LeadTimeSafetyFactor multiplies the max group RTT to derive the
	// minimum lead time for a coordinated start.
	LeadTimeSafetyFactor float64 `koanf:"lead_time_safety_factor"`

	// ScheduleMarginMS is the minimum distance of every scheduled start
	// from reference now at schedule creation.
	ScheduleMarginMS int `koanf:"schedule_margin_ms"`

	// TimingErrorThresholdMS separates SUCCEEDED from DEGRADED sessions.
	TimingErrorThresholdMS int `koanf:"timing_error_threshold_ms"`

	// MaxOffsetJumpMS flags a clock anomaly when consecutive estimates
	// move farther than this.
	MaxOffsetJumpMS int `koanf:"max_offset_jump_ms"`

	// ReportGraceMS is how long after the reference start the coordinator
	// waits before polling devices for their actual start reports.
	ReportGraceMS int `koanf:"report_grace_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":9080",
		HistorySize:            10,
		MeasurementsPerSync:    5,
		MaxRTTMS:               1000,
		QualityExcellentMS:     5,
		QualityGoodMS:          20,
		QualityFairMS:          50,
		ResyncExcellentMS:      30_000,
		ResyncGoodMS:           15_000,
		ResyncFairMS:           5_000,
		ResyncPoorMS:           1_000,
		BackoffBaseMS:          1_000,
		BackoffCapMS:           30_000,
		MaxRetries:             5,
		ExchangeTimeoutMS:      1_000,
		AckTimeoutMS:           2_000,
		HeartbeatIntervalMS:    1_000,
		HeartbeatMissLimit:     3,
		EventHistorySize:       100,
		LeadTimeSafetyFactor:   3.0,
		ScheduleMarginMS:       50,
		TimingErrorThresholdMS: 10,
		MaxOffsetJumpMS:        250,
		ReportGraceMS:          100,
	}
}
