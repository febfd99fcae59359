package device

import "time"

// State is the per-device connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSyncing
	StateSynchronized
	StateRecovering
)

// String returns the display name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateSyncing:
		return "SYNCING"
	case StateSynchronized:
		return "SYNCHRONIZED"
	case StateRecovering:
		return "RECOVERING"
	default:
		return "DISCONNECTED"
	}
}

// Device is a point-in-time view of one registered capture device.
// The owning sync task mutates the underlying cell; everyone else only
// ever sees copies of this struct.
type Device struct {
	ID   string
	Addr string

	State       State
	Offset      time.Duration // device clock minus reference clock
	Quality     Quality
	Uncertainty time.Duration
	LastSync    time.Time
	Failures    int // consecutive failed exchanges

	// History holds the retained measurement window, oldest first.
	History []Measurement
}

// Synchronized reports whether the device currently holds a usable
// offset estimate.
func (d Device) Synchronized() bool {
	return d.State == StateSynchronized
}

// Eligible reports whether the device can take part in master election:
// synchronized with quality better than POOR.
func (d Device) Eligible() bool {
	return d.Synchronized() && d.Quality.BetterThan(QualityPoor)
}
