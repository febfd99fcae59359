package registry

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrUnknownDevice = errors.New("unknown device")
)
