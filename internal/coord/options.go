package coord

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for scheduling and arming sessions.
func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithSafetyFactor sets the multiple of max group RTT that the lead time
// must exceed.
func WithSafetyFactor(f float64) Option {
	return func(co *Coordinator) {
		if f >= 1 {
			co.safetyFactor = f
		}
	}
}

// WithScheduleMargin sets the minimum distance of scheduled starts from
// reference now.
func WithScheduleMargin(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.scheduleMargin = d
		}
	}
}

// WithTimingThreshold separates SUCCEEDED from DEGRADED sessions.
func WithTimingThreshold(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.timingThreshold = d
		}
	}
}

// WithReportGrace sets how long after the start instant the coordinator
// waits before polling for start reports.
func WithReportGrace(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.reportGrace = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(co *Coordinator) {
		if l != nil {
			co.logger = l
		}
	}
}
