package coord

import "errors"

// Sentinel kinds for coordination errors.
var (
	ErrUnknownGroup        = errors.New("unknown group")
	ErrEmptyGroup          = errors.New("group needs a name and at least one device")
	ErrNoSyncQuorum        = errors.New("no group member meets minimum sync quality")
	ErrNoParticipants      = errors.New("no device acknowledged the scheduled start")
	ErrUnknownSession      = errors.New("unknown session")
	ErrSessionTerminal     = errors.New("session already terminal")
	ErrUnknownDeviceReport = errors.New("report from device outside the session")
	ErrCancelTooLate       = errors.New("session already started")
)
