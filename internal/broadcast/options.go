package broadcast

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Option applies a configuration option to the Broadcaster.
type Option func(*Broadcaster)

// WithClock sets the clock used for origin stamps and timers.
func WithClock(c clockwork.Clock) Option {
	return func(b *Broadcaster) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithAckTimeout bounds every device exchange issued by the broadcaster.
func WithAckTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.ackTimeout = d
		}
	}
}

// WithHistorySize bounds the retained event history.
func WithHistorySize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithMissLimit sets the consecutive heartbeat misses before a device is
// marked unhealthy.
func WithMissLimit(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.missLimit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}
