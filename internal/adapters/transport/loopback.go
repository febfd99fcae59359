package transport

import (
	"context"
	"sync"
	"time"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
)

// Loopback is an in-memory transport. Device handlers attach under an
// address; exchanges run the handler in its own goroutine with an optional
// simulated one-way latency. Used by tests and the fleet simulator.
type Loopback struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
	closed    bool
}

type endpoint struct {
	handler Handler
	latency time.Duration // applied once per direction
}

// EndpointOption configures an attached endpoint.
type EndpointOption func(*endpoint)

// WithLatency sets the simulated one-way network latency of the endpoint.
func WithLatency(d time.Duration) EndpointOption {
	return func(e *endpoint) {
		if d >= 0 {
			e.latency = d
		}
	}
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[string]*endpoint)}
}

// Attach registers a device handler under addr, replacing any previous one.
func (l *Loopback) Attach(addr string, h Handler, opts ...EndpointOption) {
	e := &endpoint{handler: h}
	for _, opt := range opts {
		opt(e)
	}
	l.mu.Lock()
	l.endpoints[addr] = e
	l.mu.Unlock()
}

// Detach removes the handler under addr.
func (l *Loopback) Detach(addr string) {
	l.mu.Lock()
	delete(l.endpoints, addr)
	l.mu.Unlock()
}

// Exchange delivers msg to the attached handler and waits for the reply.
// A reply arriving after timeout is discarded, not delivered.
func (l *Loopback) Exchange(ctx context.Context, addr string, msg wire.Message, timeout time.Duration) (wire.Message, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	e, ok := l.endpoints[addr]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		msg wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		if e.latency > 0 {
			time.Sleep(e.latency)
		}
		resp, err := e.handler(ctx, msg)
		if e.latency > 0 {
			time.Sleep(e.latency)
		}
		ch <- result{msg: resp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.msg, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Close detaches everything; subsequent exchanges fail with ErrClosed.
func (l *Loopback) Close() {
	l.mu.Lock()
	l.closed = true
	l.endpoints = make(map[string]*endpoint)
	l.mu.Unlock()
}
