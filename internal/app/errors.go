package app

import "errors"

// Sentinel kinds for service lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("service already started")
)
