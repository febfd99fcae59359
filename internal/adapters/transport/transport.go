// Package transport carries wire messages between the engine and capture
// devices. Every exchange is a bounded request/response round trip; a late
// response is indistinguishable from no response.
package transport

import (
	"context"
	"time"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
)

// Handler is the device-side entry point: it receives one decoded message
// and returns the reply.
type Handler func(ctx context.Context, msg wire.Message) (wire.Message, error)

// Transport performs request/response exchanges with a device address.
type Transport interface {
	// Exchange sends msg to addr and waits up to timeout for the reply.
	// Failures and timeouts both surface as errors wrapping ErrNetwork.
	Exchange(ctx context.Context, addr string, msg wire.Message, timeout time.Duration) (wire.Message, error)
}
