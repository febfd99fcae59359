package coord

import (
	"io"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/chronomesh/chronomesh/internal/adapters/transport"
	"github.com/chronomesh/chronomesh/internal/broadcast"
	"github.com/chronomesh/chronomesh/internal/clocksync"
	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/internal/registry"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

// seed puts a device into the registry with a fixed sync outcome.
func seed(reg *registry.Registry, id string, state device.State, q device.Quality, uncertainty time.Duration) {
	cell := reg.Register(id, "addr-"+id)
	cell.Update(func(d *device.Device, _ *device.Window) {
		d.State = state
		d.Quality = q
		d.Uncertainty = uncertainty
	})
}

func TestElectMaster(t *testing.T) {
	Convey("Given a coordinator over seeded devices", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()
		reg := registry.New()
		sy := clocksync.New(reg, lb)
		bc := broadcast.New(reg, lb)
		c := New(reg, sy, bc)

		Convey("When members have distinct uncertainties", func() {
			seed(reg, "cam-a", device.StateSynchronized, device.QualityGood, 4*time.Millisecond)
			seed(reg, "cam-b", device.StateSynchronized, device.QualityExcellent, 2*time.Millisecond)
			seed(reg, "cam-c", device.StateSynchronized, device.QualityGood, 6*time.Millisecond)

			Convey("Then the lowest uncertainty wins", func() {
				master, err := c.electMaster([]string{"cam-a", "cam-b", "cam-c"})
				So(err, ShouldBeNil)
				So(master, ShouldEqual, "cam-b")
			})
		})

		Convey("When two members tie on uncertainty", func() {
			seed(reg, "cam-b", device.StateSynchronized, device.QualityExcellent, 2*time.Millisecond)
			seed(reg, "cam-a", device.StateSynchronized, device.QualityExcellent, 2*time.Millisecond)

			Convey("Then the tie breaks on the lower id, deterministically", func() {
				for i := 0; i < 10; i++ {
					master, err := c.electMaster([]string{"cam-b", "cam-a"})
					So(err, ShouldBeNil)
					So(master, ShouldEqual, "cam-a")
				}
			})
		})

		Convey("When the best-uncertainty member is only POOR quality", func() {
			seed(reg, "cam-a", device.StateSynchronized, device.QualityPoor, time.Millisecond)
			seed(reg, "cam-b", device.StateSynchronized, device.QualityFair, 30*time.Millisecond)

			Convey("Then it is skipped", func() {
				master, err := c.electMaster([]string{"cam-a", "cam-b"})
				So(err, ShouldBeNil)
				So(master, ShouldEqual, "cam-b")
			})
		})

		Convey("When a member is not synchronized", func() {
			seed(reg, "cam-a", device.StateRecovering, device.QualityExcellent, time.Millisecond)
			seed(reg, "cam-b", device.StateSynchronized, device.QualityGood, 10*time.Millisecond)

			Convey("Then it cannot be master", func() {
				master, err := c.electMaster([]string{"cam-a", "cam-b"})
				So(err, ShouldBeNil)
				So(master, ShouldEqual, "cam-b")
			})
		})

		Convey("When no member is eligible", func() {
			seed(reg, "cam-a", device.StateDisconnected, device.QualityUnknown, 0)

			Convey("Then the election fails with no quorum", func() {
				_, err := c.electMaster([]string{"cam-a", "cam-missing"})
				So(err, ShouldWrap, ErrNoSyncQuorum)
			})
		})
	})
}
