package device

import "time"

// minWeightRTT floors the RTT used for 1/RTT weighting so that idealized
// zero-delay measurements keep the weighted average finite.
const minWeightRTT = time.Microsecond

// Window is a bounded, insertion-ordered history of measurements.
// The oldest entry is evicted once the capacity is exceeded.
type Window struct {
	capacity     int
	measurements []Measurement
}

// NewWindow creates a window holding at most capacity measurements.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity:     capacity,
		measurements: make([]Measurement, 0, capacity),
	}
}

// Add appends a measurement, evicting the oldest entry when full.
func (w *Window) Add(m Measurement) {
	if len(w.measurements) == w.capacity {
		copy(w.measurements, w.measurements[1:])
		w.measurements = w.measurements[:len(w.measurements)-1]
	}
	w.measurements = append(w.measurements, m)
}

// Len returns the number of retained measurements.
func (w *Window) Len() int { return len(w.measurements) }

// Measurements returns a copy of the retained measurements, oldest first.
func (w *Window) Measurements() []Measurement {
	out := make([]Measurement, len(w.measurements))
	copy(out, w.measurements)
	return out
}

// Reset drops all retained measurements.
func (w *Window) Reset() { w.measurements = w.measurements[:0] }

// WeightedOffset aggregates offsets with weight 1/RTT so that low-latency
// measurements dominate the estimate. Returns 0 for an empty slice.
func WeightedOffset(ms []Measurement) time.Duration {
	if len(ms) == 0 {
		return 0
	}
	var sum, weights float64
	for _, m := range ms {
		rtt := m.RTT()
		if rtt < minWeightRTT {
			rtt = minWeightRTT
		}
		w := 1.0 / float64(rtt)
		sum += w * float64(m.Offset())
		weights += w
	}
	return time.Duration(sum / weights)
}

// OffsetSpread is the max-min distance between offsets in the slice.
func OffsetSpread(ms []Measurement) time.Duration {
	if len(ms) == 0 {
		return 0
	}
	lo, hi := ms[0].Offset(), ms[0].Offset()
	for _, m := range ms[1:] {
		off := m.Offset()
		if off < lo {
			lo = off
		}
		if off > hi {
			hi = off
		}
	}
	return hi - lo
}

// Uncertainty derives the estimate uncertainty from a window: half the
// offset spread when at least two measurements are retained, otherwise
// RTT/2 of the single measurement as a conservative proxy.
func Uncertainty(ms []Measurement) time.Duration {
	switch len(ms) {
	case 0:
		return 0
	case 1:
		return ms[0].RTT() / 2
	default:
		return OffsetSpread(ms) / 2
	}
}
