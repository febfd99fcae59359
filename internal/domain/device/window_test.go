package device_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/chronomesh/chronomesh/internal/domain/device"
)

// flat builds a measurement with the given offset and rtt, symmetric delay,
// no processing time.
func flat(offset, rtt time.Duration) device.Measurement {
	half := int64(rtt) / 2
	return device.Measurement{
		ClientSend:    0,
		ServerReceive: half + int64(offset),
		ServerSend:    half + int64(offset),
		ClientReceive: 2 * half,
	}
}

func TestWindow(t *testing.T) {
	Convey("Given a window with capacity 3", t, func() {
		w := device.NewWindow(3)

		Convey("When more measurements than the capacity are added", func() {
			for i := 1; i <= 5; i++ {
				w.Add(flat(time.Duration(i)*time.Millisecond, time.Millisecond))
			}

			Convey("Then only the newest three are retained, oldest first", func() {
				So(w.Len(), ShouldEqual, 3)
				ms := w.Measurements()
				So(ms[0].Offset(), ShouldEqual, 3*time.Millisecond)
				So(ms[1].Offset(), ShouldEqual, 4*time.Millisecond)
				So(ms[2].Offset(), ShouldEqual, 5*time.Millisecond)
			})
		})

		Convey("When the window is reset", func() {
			w.Add(flat(time.Millisecond, time.Millisecond))
			w.Reset()

			Convey("Then it is empty", func() {
				So(w.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestWeightedOffset(t *testing.T) {
	Convey("Given measurements with different RTTs", t, func() {
		ms := []device.Measurement{
			flat(10*time.Millisecond, 2*time.Millisecond),
			flat(20*time.Millisecond, 8*time.Millisecond),
		}

		Convey("Then the low-RTT measurement dominates the estimate", func() {
			got := device.WeightedOffset(ms)
			// weights 1/2 and 1/8 -> (10/2 + 20/8) / (1/2 + 1/8) = 12ms
			So(got, ShouldEqual, 12*time.Millisecond)
		})
	})

	Convey("Given identical offsets", t, func() {
		ms := []device.Measurement{
			flat(7*time.Millisecond, time.Millisecond),
			flat(7*time.Millisecond, 4*time.Millisecond),
		}

		Convey("Then the weighted offset is that offset", func() {
			So(device.WeightedOffset(ms), ShouldEqual, 7*time.Millisecond)
		})
	})

	Convey("Given an idealized zero-RTT measurement", t, func() {
		ms := []device.Measurement{flat(3*time.Millisecond, 0)}

		Convey("Then the estimate stays finite", func() {
			So(device.WeightedOffset(ms), ShouldEqual, 3*time.Millisecond)
		})
	})

	Convey("Given no measurements", t, func() {
		So(device.WeightedOffset(nil), ShouldEqual, time.Duration(0))
	})
}

func TestUncertainty(t *testing.T) {
	Convey("Given an empty window", t, func() {
		So(device.Uncertainty(nil), ShouldEqual, time.Duration(0))
	})

	Convey("Given a single measurement", t, func() {
		ms := []device.Measurement{flat(time.Millisecond, 10*time.Millisecond)}

		Convey("Then uncertainty is RTT/2", func() {
			So(device.Uncertainty(ms), ShouldEqual, 5*time.Millisecond)
		})
	})

	Convey("Given multiple measurements", t, func() {
		ms := []device.Measurement{
			flat(10*time.Millisecond, time.Millisecond),
			flat(14*time.Millisecond, time.Millisecond),
			flat(12*time.Millisecond, time.Millisecond),
		}

		Convey("Then uncertainty is half the offset spread", func() {
			So(device.OffsetSpread(ms), ShouldEqual, 4*time.Millisecond)
			So(device.Uncertainty(ms), ShouldEqual, 2*time.Millisecond)
		})
	})
}
