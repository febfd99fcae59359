// Package simdevice implements the device side of the sync protocol with a
// configurable clock skew, processing delay and failure injection. It backs
// the fleet simulator command and the engine's integration tests; a real
// capture device answers the same messages.
package simdevice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
)

// Device simulates one independently clocked capture device.
type Device struct {
	id    string
	clock clockwork.Clock

	skew        time.Duration // device clock minus reference clock
	processing  time.Duration // stamp gap between serverReceive and serverSend
	respDelay   time.Duration // artificial blocking before any reply
	startJitter time.Duration // reported actual start minus scheduled start

	mu             sync.Mutex
	failHeartbeats bool
	failMarkers    bool
	acceptStarts   bool
	markers        []wire.Marker
	scheduled      map[string]int64
	cancelled      map[string]bool
}

// New creates a simulated device with configuration options.
func New(id string, opts ...Option) *Device {
	d := &Device{
		id:           id,
		clock:        clockwork.NewRealClock(),
		acceptStarts: true,
		scheduled:    make(map[string]int64),
		cancelled:    make(map[string]bool),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// ID returns the device id.
func (d *Device) ID() string { return d.id }

// LocalNow is the device's own clock reading in nanoseconds.
func (d *Device) LocalNow() int64 {
	return d.clock.Now().Add(d.skew).UnixNano()
}

// Handle answers one wire message. It is the transport.Handler of the
// device.
func (d *Device) Handle(_ context.Context, msg wire.Message) (wire.Message, error) {
	if d.respDelay > 0 {
		time.Sleep(d.respDelay)
	}

	switch m := msg.(type) {
	case wire.SyncRequest:
		recv := d.LocalNow()
		if d.processing > 0 {
			time.Sleep(d.processing)
		}
		return wire.SyncResponse{
			DeviceID:      d.id,
			ClientSend:    m.ClientSend,
			ServerReceive: recv,
			ServerSend:    d.LocalNow(),
		}, nil

	case wire.Marker:
		d.mu.Lock()
		failing := d.failMarkers
		if !failing {
			d.markers = append(d.markers, m)
		}
		d.mu.Unlock()
		if failing {
			return nil, fmt.Errorf("device %s dropping marker", d.id)
		}
		return wire.MarkerAck{DeviceID: d.id, Received: true}, nil

	case wire.ScheduledStart:
		d.mu.Lock()
		defer d.mu.Unlock()
		if !d.acceptStarts {
			return wire.StartAck{DeviceID: d.id, SessionID: m.SessionID, Accepted: false}, nil
		}
		d.scheduled[m.SessionID] = m.LocalStartTime
		return wire.StartAck{DeviceID: d.id, SessionID: m.SessionID, Accepted: true}, nil

	case wire.CancelStart:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.cancelled[m.SessionID] = true
		delete(d.scheduled, m.SessionID)
		return wire.StartAck{DeviceID: d.id, SessionID: m.SessionID, Accepted: true}, nil

	case wire.Heartbeat:
		d.mu.Lock()
		failing := d.failHeartbeats
		d.mu.Unlock()
		if failing {
			return nil, fmt.Errorf("device %s not answering heartbeats", d.id)
		}
		return wire.HeartbeatAck{DeviceID: d.id, Seq: m.Seq}, nil

	case wire.ReportRequest:
		d.mu.Lock()
		defer d.mu.Unlock()
		start, ok := d.scheduled[m.SessionID]
		if !ok || d.cancelled[m.SessionID] {
			return nil, fmt.Errorf("device %s: session %s not armed", d.id, m.SessionID)
		}
		if d.LocalNow() < start {
			return nil, fmt.Errorf("device %s: session %s not started yet", d.id, m.SessionID)
		}
		return wire.StartReport{
			DeviceID:         d.id,
			SessionID:        m.SessionID,
			ActualLocalStart: start + int64(d.startJitter),
		}, nil

	default:
		return nil, fmt.Errorf("device %s: unexpected message %T", d.id, msg)
	}
}

// SetHeartbeatFailing toggles heartbeat failure injection at runtime.
func (d *Device) SetHeartbeatFailing(failing bool) {
	d.mu.Lock()
	d.failHeartbeats = failing
	d.mu.Unlock()
}

// SetMarkerFailing toggles marker failure injection at runtime.
func (d *Device) SetMarkerFailing(failing bool) {
	d.mu.Lock()
	d.failMarkers = failing
	d.mu.Unlock()
}

// Markers returns the markers received so far.
func (d *Device) Markers() []wire.Marker {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]wire.Marker, len(d.markers))
	copy(out, d.markers)
	return out
}

// Scheduled returns the recorded local start for a session, if any.
func (d *Device) Scheduled(sessionID string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.scheduled[sessionID]
	return t, ok
}

// Cancelled reports whether a session was cancelled on the device.
func (d *Device) Cancelled(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelled[sessionID]
}
