package clocksync

import "errors"

// Sentinel kinds for synchronizer errors.
var (
	ErrBadResponse     = errors.New("malformed sync response")
	ErrNotSynchronized = errors.New("device not synchronized")
)
