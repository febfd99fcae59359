package simdevice

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Option applies a configuration option to the Device.
type Option func(*Device)

// WithClock sets the underlying clock.
func WithClock(c clockwork.Clock) Option {
	return func(d *Device) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithSkew sets the device clock offset relative to the reference clock.
func WithSkew(skew time.Duration) Option {
	return func(d *Device) {
		d.skew = skew
	}
}

// WithProcessing sets the simulated stamp gap between serverReceive and
// serverSend.
func WithProcessing(p time.Duration) Option {
	return func(d *Device) {
		if p > 0 {
			d.processing = p
		}
	}
}

// WithResponseDelay blocks every reply by the given duration. Used to
// simulate devices answering after the exchange timeout.
func WithResponseDelay(delay time.Duration) Option {
	return func(d *Device) {
		if delay > 0 {
			d.respDelay = delay
		}
	}
}

// WithStartJitter offsets the reported actual start from the scheduled
// start.
func WithStartJitter(j time.Duration) Option {
	return func(d *Device) {
		d.startJitter = j
	}
}

// WithRejectStarts makes the device refuse scheduled starts.
func WithRejectStarts() Option {
	return func(d *Device) {
		d.acceptStarts = false
	}
}
