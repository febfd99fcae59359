package backoff

import "time"

// Option applies a configuration option to the Policy.
type Option func(*Policy)

// WithBase sets the first retry delay.
func WithBase(base time.Duration) Option {
	return func(p *Policy) {
		if base > 0 {
			p.base = base
		}
	}
}

// WithCap sets the maximum retry delay.
func WithCap(cap time.Duration) Option {
	return func(p *Policy) {
		if cap > 0 {
			p.cap = cap
		}
	}
}

// WithMaxAttempts sets the consecutive-failure budget before abandoning.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}
