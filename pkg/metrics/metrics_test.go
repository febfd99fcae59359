package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		Convey("When created with a private registry", func() {
			m := NewManager(WithRegistry(prometheus.NewRegistry()))

			Convey("Then it is usable", func() {
				So(m, ShouldNotBeNil)
			})
		})

		Convey("When created with custom options", func() {
			m := NewManager(
				WithNamespace("testns"),
				WithSubsystem("testsub"),
				WithHistogramBuckets([]float64{0.001, 0.01, 0.1}),
				WithMetricsEnabled(true),
				WithRegistry(prometheus.NewRegistry()),
			)

			Convey("Then it is created successfully", func() {
				So(m, ShouldNotBeNil)
				So(m.namespace, ShouldEqual, "testns")
				So(m.subsystem, ShouldEqual, "testsub")
			})
		})
	})
}

func TestGlobalRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording sync metrics", func() {
			So(func() {
				RecordSyncExchange()
				RecordSyncFailure()
				RecordMeasurementDropped()
				RecordClockAnomaly()
				RecordExchangeRTT(0.012)
			}, ShouldNotPanic)
		})

		Convey("When updating device gauges", func() {
			So(func() {
				UpdateDeviceOffset("cam-a", 0.004)
				UpdateDeviceQuality("cam-a", 3)
				UpdateRegisteredDevices(5)
				UpdateUnhealthyDevices(1)
			}, ShouldNotPanic)
		})

		Convey("When recording broadcast and heartbeat metrics", func() {
			So(func() {
				RecordBroadcast()
				RecordDeliveryFailure()
				RecordAckTimeout()
				RecordHeartbeatMiss()
			}, ShouldNotPanic)
		})

		Convey("When recording coordination metrics", func() {
			So(func() {
				RecordSessionOutcome("succeeded")
				RecordSessionTimingError((2 * time.Millisecond).Seconds())
				RecordElectionFailure()
			}, ShouldNotPanic)
		})

		Convey("When recording HTTP metrics", func() {
			So(func() {
				RecordHTTPRequest("devices", "GET", "200")
				RecordHTTPRequestDuration("devices", "GET", 0.003)
			}, ShouldNotPanic)
		})

		Convey("Then the registry gathers without error", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}
