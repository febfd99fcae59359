// Package wire defines the binary messages exchanged between the engine
// and capture devices, and their codec. All integers are big-endian and
// fixed-width; strings are uint16-length-prefixed UTF-8.
package wire

import "fmt"

// Type identifies a wire message.
type Type uint8

const (
	TypeSyncRequest Type = iota + 1
	TypeSyncResponse
	TypeMarker
	TypeMarkerAck
	TypeScheduledStart
	TypeStartAck
	TypeStartReport
	TypeHeartbeat
	TypeHeartbeatAck
	TypeCancelStart
	TypeReportRequest
)

// Kind classifies a broadcast marker.
type Kind uint8

const (
	KindSessionStart Kind = iota
	KindSessionEnd
	KindCalibration
	KindTimeReference
	KindCustom
)

// String returns the display name of the marker kind.
func (k Kind) String() string {
	switch k {
	case KindSessionStart:
		return "SESSION_START"
	case KindSessionEnd:
		return "SESSION_END"
	case KindCalibration:
		return "CALIBRATION"
	case KindTimeReference:
		return "TIME_REFERENCE"
	default:
		return "CUSTOM"
	}
}

// ParseKind maps a display name back to its marker kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "SESSION_START":
		return KindSessionStart, nil
	case "SESSION_END":
		return KindSessionEnd, nil
	case "CALIBRATION":
		return KindCalibration, nil
	case "TIME_REFERENCE":
		return KindTimeReference, nil
	case "CUSTOM":
		return KindCustom, nil
	default:
		return KindCustom, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Message is any encodable wire message.
type Message interface {
	Type() Type
}

// SyncRequest opens a four-timestamp exchange. ClientSend is the sender's
// monotonic stamp in nanoseconds.
type SyncRequest struct {
	DeviceID   string
	ClientSend int64
}

func (SyncRequest) Type() Type { return TypeSyncRequest }

// SyncResponse carries the device-side stamps back. The client stamps
// clientReceive itself on arrival.
type SyncResponse struct {
	DeviceID      string
	ClientSend    int64
	ServerReceive int64
	ServerSend    int64
}

func (SyncResponse) Type() Type { return TypeSyncResponse }

// Marker is a broadcast, timestamped event used for post-hoc alignment
// verification or session bracketing.
type Marker struct {
	Kind            Kind
	OriginTimestamp int64
	Payload         map[string]string
}

func (Marker) Type() Type { return TypeMarker }

// MarkerAck acknowledges receipt of a marker.
type MarkerAck struct {
	DeviceID string
	Received bool
}

func (MarkerAck) Type() Type { return TypeMarkerAck }

// ScheduledStart commands a device to start recording at the given local
// clock reading.
type ScheduledStart struct {
	SessionID      string
	LocalStartTime int64
}

func (ScheduledStart) Type() Type { return TypeScheduledStart }

// StartAck accepts or rejects a scheduled start.
type StartAck struct {
	DeviceID  string
	SessionID string
	Accepted  bool
}

func (StartAck) Type() Type { return TypeStartAck }

// StartReport carries the device's actual local start time, collected
// after the session started.
type StartReport struct {
	DeviceID         string
	SessionID        string
	ActualLocalStart int64
}

func (StartReport) Type() Type { return TypeStartReport }

// Heartbeat probes device liveness.
type Heartbeat struct {
	DeviceID string
	Seq      int64
}

func (Heartbeat) Type() Type { return TypeHeartbeat }

// HeartbeatAck answers a heartbeat.
type HeartbeatAck struct {
	DeviceID string
	Seq      int64
}

func (HeartbeatAck) Type() Type { return TypeHeartbeatAck }

// CancelStart revokes a previously acknowledged scheduled start.
type CancelStart struct {
	SessionID string
}

func (CancelStart) Type() Type { return TypeCancelStart }

// ReportRequest polls a device for its StartReport after a session fired.
type ReportRequest struct {
	SessionID string
}

func (ReportRequest) Type() Type { return TypeReportRequest }
