package transport

import (
	"errors"
	"fmt"
)

// Sentinel kinds for transport errors. ErrNetwork is the root: timeouts
// and unknown endpoints wrap it so callers can match the whole family.
var (
	ErrNetwork         = errors.New("network failure")
	ErrTimeout         = fmt.Errorf("%w: exchange timed out", ErrNetwork)
	ErrUnknownEndpoint = fmt.Errorf("%w: unknown endpoint", ErrNetwork)
	ErrClosed          = fmt.Errorf("%w: transport closed", ErrNetwork)
)
