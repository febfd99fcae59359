package clocksync

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/internal/domain/backoff"
	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Option applies a configuration option to the Synchronizer.
type Option func(*Synchronizer)

// WithClock sets the clock used for timestamps, retries and resync timers.
func WithClock(c clockwork.Clock) Option {
	return func(s *Synchronizer) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPolicy sets the failure recovery policy.
func WithPolicy(p *backoff.Policy) Option {
	return func(s *Synchronizer) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithThresholds sets the quality classification thresholds.
func WithThresholds(t device.Thresholds) Option {
	return func(s *Synchronizer) {
		s.thresholds = t
	}
}

// WithResyncIntervals sets the adaptive resync cadence per quality level.
func WithResyncIntervals(r ResyncIntervals) Option {
	return func(s *Synchronizer) {
		s.resync = r
	}
}

// WithMaxRTT sets the outlier cutoff for measurements.
func WithMaxRTT(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.maxRTT = d
		}
	}
}

// WithExchangeTimeout bounds one network round trip.
func WithExchangeTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.exchangeTimeout = d
		}
	}
}

// WithMaxOffsetJump sets the clock anomaly threshold between consecutive
// estimates.
func WithMaxOffsetJump(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.maxOffsetJump = d
		}
	}
}

// WithMeasurementsPerSync sets the default number of exchanges per round.
func WithMeasurementsPerSync(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.measurementsPerSync = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}
