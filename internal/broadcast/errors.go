package broadcast

import "errors"

// Sentinel kinds for broadcast errors.
var (
	ErrAckTimeout = errors.New("ack timeout")
	ErrNack       = errors.New("device refused marker")
	ErrBadAck     = errors.New("malformed ack")
)
