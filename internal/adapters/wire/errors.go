package wire

import "errors"

// Sentinel kinds for codec errors.
var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrShortFrame    = errors.New("frame truncated")
	ErrTrailingBytes = errors.New("frame has trailing bytes")
	ErrFrameTooLarge = errors.New("frame field too large")
	ErrUnknownKind   = errors.New("unknown marker kind")
)
