package device_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/chronomesh/chronomesh/internal/domain/device"
)

func defaultThresholds() device.Thresholds {
	return device.Thresholds{
		Excellent: 5 * time.Millisecond,
		Good:      20 * time.Millisecond,
		Fair:      50 * time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	Convey("Given the default quality thresholds", t, func() {
		th := defaultThresholds()

		Convey("Then uncertainties map to the expected levels", func() {
			So(device.Classify(0, th), ShouldEqual, device.QualityExcellent)
			So(device.Classify(4*time.Millisecond, th), ShouldEqual, device.QualityExcellent)
			So(device.Classify(5*time.Millisecond, th), ShouldEqual, device.QualityGood)
			So(device.Classify(19*time.Millisecond, th), ShouldEqual, device.QualityGood)
			So(device.Classify(20*time.Millisecond, th), ShouldEqual, device.QualityFair)
			So(device.Classify(49*time.Millisecond, th), ShouldEqual, device.QualityFair)
			So(device.Classify(50*time.Millisecond, th), ShouldEqual, device.QualityPoor)
			So(device.Classify(time.Hour, th), ShouldEqual, device.QualityPoor)
		})

		Convey("Then classification is monotonic in uncertainty", func() {
			steps := []time.Duration{
				0, time.Millisecond, 5 * time.Millisecond, 10 * time.Millisecond,
				20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond,
				100 * time.Millisecond,
			}
			prev := device.QualityExcellent
			for _, u := range steps {
				q := device.Classify(u, th)
				So(q.BetterThan(prev), ShouldBeFalse)
				prev = q
			}
		})
	})
}

func TestQuality(t *testing.T) {
	Convey("Given the quality levels", t, func() {
		Convey("Then the ordering is EXCELLENT > GOOD > FAIR > POOR > UNKNOWN", func() {
			So(device.QualityExcellent.BetterThan(device.QualityGood), ShouldBeTrue)
			So(device.QualityGood.BetterThan(device.QualityFair), ShouldBeTrue)
			So(device.QualityFair.BetterThan(device.QualityPoor), ShouldBeTrue)
			So(device.QualityPoor.BetterThan(device.QualityUnknown), ShouldBeTrue)
			So(device.QualityGood.BetterThan(device.QualityGood), ShouldBeFalse)
		})

		Convey("Then display names match the protocol", func() {
			So(device.QualityExcellent.String(), ShouldEqual, "EXCELLENT")
			So(device.QualityGood.String(), ShouldEqual, "GOOD")
			So(device.QualityFair.String(), ShouldEqual, "FAIR")
			So(device.QualityPoor.String(), ShouldEqual, "POOR")
			So(device.QualityUnknown.String(), ShouldEqual, "UNKNOWN")
		})

		Convey("Then Degrade steps down one level and bottoms out at POOR", func() {
			So(device.QualityExcellent.Degrade(), ShouldEqual, device.QualityGood)
			So(device.QualityGood.Degrade(), ShouldEqual, device.QualityFair)
			So(device.QualityFair.Degrade(), ShouldEqual, device.QualityPoor)
			So(device.QualityPoor.Degrade(), ShouldEqual, device.QualityPoor)
		})
	})
}

func TestDevice_Eligible(t *testing.T) {
	Convey("Given devices in various states", t, func() {
		Convey("Then only synchronized devices above POOR are eligible", func() {
			d := device.Device{State: device.StateSynchronized, Quality: device.QualityGood}
			So(d.Eligible(), ShouldBeTrue)

			d.Quality = device.QualityPoor
			So(d.Eligible(), ShouldBeFalse)

			d.Quality = device.QualityExcellent
			d.State = device.StateRecovering
			So(d.Eligible(), ShouldBeFalse)
		})
	})
}
