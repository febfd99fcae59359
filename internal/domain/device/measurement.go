// Package device contains the domain model shared by the sync engine:
// devices, four-timestamp measurements, and clock quality classification.
package device

import "time"

// Measurement is one completed four-timestamp exchange. All stamps are
// monotonic-clock readings in nanoseconds: ClientSend and ClientReceive on
// the reference side, ServerReceive and ServerSend on the device side.
// Immutable once created.
type Measurement struct {
	ClientSend    int64
	ServerReceive int64
	ServerSend    int64
	ClientReceive int64
}

// Offset estimates device-clock-minus-reference using the symmetric
// NTP-style formula ((t2-t1)+(t3-t4))/2.
func (m Measurement) Offset() time.Duration {
	return time.Duration(((m.ServerReceive - m.ClientSend) + (m.ServerSend - m.ClientReceive)) / 2)
}

// RTT is the network round-trip time with device processing time removed:
// (t4-t1)-(t3-t2).
func (m Measurement) RTT() time.Duration {
	return time.Duration((m.ClientReceive - m.ClientSend) - (m.ServerSend - m.ServerReceive))
}
