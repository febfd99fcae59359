// Package backoff implements the failure recovery policy used when a
// device becomes unreachable: exponential delays and an abandon budget.
// The policy is a pure function of the attempt number and carries no state.
package backoff

import "time"

// Default policy constants.
const (
	defaultBase        = 1 * time.Second
	defaultCap         = 30 * time.Second
	defaultMaxAttempts = 5
)

// Policy computes retry delays and the abandon decision.
type Policy struct {
	base        time.Duration
	cap         time.Duration
	maxAttempts int
}

// New creates a Policy with configuration options.
func New(opts ...Option) *Policy {
	p := &Policy{
		base:        defaultBase,
		cap:         defaultCap,
		maxAttempts: defaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// NextDelay returns min(base * 2^attempt, cap). Attempt numbers start at 0
// for the first retry. Negative attempts are treated as 0.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.cap {
			return p.cap
		}
	}
	if d > p.cap {
		return p.cap
	}
	return d
}

// ShouldAbandon reports whether the retry budget is exhausted after the
// given number of consecutive failures.
func (p *Policy) ShouldAbandon(attempt int) bool {
	return attempt >= p.maxAttempts
}

// MaxAttempts returns the configured retry budget.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }
