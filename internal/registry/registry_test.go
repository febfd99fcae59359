package registry_test

import (
	"io"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/internal/registry"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

func TestRegistry_Register(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		reg := registry.New()

		Convey("When a device is registered", func() {
			reg.Register("cam-01", "10.0.0.1:9000")

			Convey("Then it starts disconnected with unknown quality", func() {
				cell, ok := reg.Cell("cam-01")
				So(ok, ShouldBeTrue)

				snap := cell.Snapshot()
				So(snap.ID, ShouldEqual, "cam-01")
				So(snap.Addr, ShouldEqual, "10.0.0.1:9000")
				So(snap.State, ShouldEqual, device.StateDisconnected)
				So(snap.Quality, ShouldEqual, device.QualityUnknown)
				So(snap.History, ShouldBeEmpty)
				So(reg.Len(), ShouldEqual, 1)
			})
		})

		Convey("When an existing id is re-registered", func() {
			cell := reg.Register("cam-01", "10.0.0.1:9000")
			cell.Update(func(d *device.Device, w *device.Window) {
				d.State = device.StateSynchronized
				d.Offset = 12 * time.Millisecond
				w.Add(device.Measurement{ClientSend: 1, ServerReceive: 2, ServerSend: 2, ClientReceive: 3})
			})

			reg.Register("cam-01", "10.0.0.2:9000")

			Convey("Then the cell is reset to a fresh state", func() {
				fresh, ok := reg.Cell("cam-01")
				So(ok, ShouldBeTrue)

				snap := fresh.Snapshot()
				So(snap.Addr, ShouldEqual, "10.0.0.2:9000")
				So(snap.State, ShouldEqual, device.StateDisconnected)
				So(snap.Offset, ShouldEqual, time.Duration(0))
				So(snap.History, ShouldBeEmpty)
				So(reg.Len(), ShouldEqual, 1)
			})
		})
	})
}

func TestRegistry_Deregister(t *testing.T) {
	Convey("Given a registry with one device", t, func() {
		reg := registry.New()
		reg.Register("cam-01", "10.0.0.1:9000")

		Convey("When the device is deregistered", func() {
			ok := reg.Deregister("cam-01")

			Convey("Then it is gone", func() {
				So(ok, ShouldBeTrue)
				_, found := reg.Cell("cam-01")
				So(found, ShouldBeFalse)
				So(reg.Len(), ShouldEqual, 0)
			})
		})

		Convey("When an unknown id is deregistered", func() {
			So(reg.Deregister("cam-99"), ShouldBeFalse)
		})
	})
}

func TestRegistry_SnapshotsAndIDs(t *testing.T) {
	Convey("Given a registry with several devices", t, func() {
		reg := registry.New(registry.WithHistorySize(2))
		reg.Register("cam-02", "b")
		reg.Register("cam-01", "a")
		reg.Register("cam-03", "c")

		Convey("Then ids come back sorted", func() {
			So(reg.IDs(), ShouldResemble, []string{"cam-01", "cam-02", "cam-03"})
		})

		Convey("Then snapshots follow the same order", func() {
			snaps := reg.Snapshots()
			So(snaps, ShouldHaveLength, 3)
			So(snaps[0].ID, ShouldEqual, "cam-01")
			So(snaps[2].ID, ShouldEqual, "cam-03")
		})

		Convey("Then the configured history size caps the window", func() {
			cell, _ := reg.Cell("cam-01")
			cell.Update(func(_ *device.Device, w *device.Window) {
				for i := 0; i < 5; i++ {
					w.Add(device.Measurement{ClientSend: int64(i)})
				}
			})
			So(cell.Snapshot().History, ShouldHaveLength, 2)
		})
	})
}

func TestCell_SnapshotIsolation(t *testing.T) {
	Convey("Given a cell with history", t, func() {
		reg := registry.New()
		cell := reg.Register("cam-01", "a")
		cell.Update(func(_ *device.Device, w *device.Window) {
			w.Add(device.Measurement{ClientSend: 1})
		})

		Convey("When a snapshot's history is mutated", func() {
			snap := cell.Snapshot()
			snap.History[0].ClientSend = 999

			Convey("Then the cell is unaffected", func() {
				So(cell.Snapshot().History[0].ClientSend, ShouldEqual, 1)
			})
		})
	})
}
