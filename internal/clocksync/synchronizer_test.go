package clocksync_test

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/chronomesh/chronomesh/internal/adapters/transport"
	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/internal/clocksync"
	"github.com/chronomesh/chronomesh/internal/domain/backoff"
	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/internal/registry"
	"github.com/chronomesh/chronomesh/internal/simdevice"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

// fastPolicy keeps retry pauses negligible in tests.
func fastPolicy(attempts int) *backoff.Policy {
	return backoff.New(
		backoff.WithBase(time.Millisecond),
		backoff.WithCap(2*time.Millisecond),
		backoff.WithMaxAttempts(attempts),
	)
}

func TestSynchronizer_SyncDevice(t *testing.T) {
	Convey("Given a device with +12ms skew behind a 10ms round trip", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		dev := simdevice.New("cam-01", simdevice.WithSkew(12*time.Millisecond))
		lb.Attach("a", dev.Handle, transport.WithLatency(5*time.Millisecond))

		reg := registry.New()
		sy := clocksync.New(reg, lb, clocksync.WithPolicy(fastPolicy(3)))
		sy.Register("cam-01", "a")

		Convey("When a sync round of five measurements runs", func() {
			ok := sy.SyncDevice(context.Background(), "cam-01", 5)

			Convey("Then the device synchronizes with the skew recovered", func() {
				So(ok, ShouldBeTrue)

				snap, err := sy.Device("cam-01")
				So(err, ShouldBeNil)
				So(snap.State, ShouldEqual, device.StateSynchronized)
				So(snap.History, ShouldHaveLength, 5)
				So(snap.Offset, ShouldBeBetween, 9*time.Millisecond, 15*time.Millisecond)
				So(snap.Quality.BetterThan(device.QualityFair), ShouldBeTrue)
				So(snap.LastSync.IsZero(), ShouldBeFalse)
				So(snap.Failures, ShouldEqual, 0)
			})

			Convey("And CorrectedNow tracks the device's own clock", func() {
				corrected, err := sy.CorrectedNow("cam-01")
				So(err, ShouldBeNil)

				diff := corrected.UnixNano() - dev.LocalNow()
				if diff < 0 {
					diff = -diff
				}
				So(diff, ShouldBeLessThan, int64(5*time.Millisecond))
			})
		})

		Convey("When the device has not synced yet", func() {
			Convey("Then CorrectedNow refuses", func() {
				_, err := sy.CorrectedNow("cam-01")
				So(err, ShouldWrap, clocksync.ErrNotSynchronized)
			})
		})
	})

	Convey("Given a device with a negative skew", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		dev := simdevice.New("cam-02", simdevice.WithSkew(-8*time.Millisecond))
		lb.Attach("b", dev.Handle)

		reg := registry.New()
		sy := clocksync.New(reg, lb, clocksync.WithPolicy(fastPolicy(3)))
		sy.Register("cam-02", "b")

		Convey("When it syncs", func() {
			So(sy.SyncDevice(context.Background(), "cam-02", 5), ShouldBeTrue)

			Convey("Then the offset estimate is negative", func() {
				offset, err := sy.Offset("cam-02")
				So(err, ShouldBeNil)
				So(offset, ShouldBeBetween, -11*time.Millisecond, -5*time.Millisecond)
			})
		})
	})
}

func TestSynchronizer_OutlierFilter(t *testing.T) {
	Convey("Given a link that stalls on every second exchange", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		dev := simdevice.New("cam-01", simdevice.WithSkew(10*time.Millisecond))
		var calls atomic.Int64
		lb.Attach("a", func(ctx context.Context, msg wire.Message) (wire.Message, error) {
			if calls.Add(1)%2 == 0 {
				time.Sleep(30 * time.Millisecond)
			}
			return dev.Handle(ctx, msg)
		})

		reg := registry.New()
		sy := clocksync.New(reg, lb,
			clocksync.WithPolicy(fastPolicy(3)),
			clocksync.WithMaxRTT(10*time.Millisecond),
		)
		sy.Register("cam-01", "a")

		Convey("When a round of five measurements runs", func() {
			ok := sy.SyncDevice(context.Background(), "cam-01", 5)

			Convey("Then stalled exchanges are dropped, not counted as failures", func() {
				So(ok, ShouldBeTrue)

				snap, _ := sy.Device("cam-01")
				So(snap.State, ShouldEqual, device.StateSynchronized)
				So(snap.History, ShouldHaveLength, 3)
				So(snap.Failures, ShouldEqual, 0)
				So(snap.Offset, ShouldBeBetween, 8*time.Millisecond, 12*time.Millisecond)
			})
		})
	})
}

func TestSynchronizer_AllOutlierRound(t *testing.T) {
	Convey("Given a link where every exchange exceeds the RTT bound", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		dev := simdevice.New("cam-01", simdevice.WithSkew(10*time.Millisecond))
		lb.Attach("a", func(ctx context.Context, msg wire.Message) (wire.Message, error) {
			time.Sleep(30 * time.Millisecond)
			return dev.Handle(ctx, msg)
		})

		reg := registry.New()
		sy := clocksync.New(reg, lb,
			clocksync.WithPolicy(fastPolicy(3)),
			clocksync.WithMaxRTT(10*time.Millisecond),
		)
		sy.Register("cam-01", "a")

		Convey("When a never-synced device runs a round", func() {
			ok := sy.SyncDevice(context.Background(), "cam-01", 3)

			Convey("Then it lands in RECOVERING, not stuck in SYNCING", func() {
				So(ok, ShouldBeFalse)

				snap, _ := sy.Device("cam-01")
				So(snap.State, ShouldEqual, device.StateRecovering)
				So(snap.History, ShouldBeEmpty)
				So(snap.Failures, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a synchronized device whose link turns congested", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		dev := simdevice.New("cam-01", simdevice.WithSkew(10*time.Millisecond))
		lb.Attach("a", dev.Handle)

		reg := registry.New()
		sy := clocksync.New(reg, lb,
			clocksync.WithPolicy(fastPolicy(3)),
			clocksync.WithMaxRTT(10*time.Millisecond),
		)
		sy.Register("cam-01", "a")
		So(sy.SyncDevice(context.Background(), "cam-01", 3), ShouldBeTrue)

		Convey("When every sample of the next round is an outlier", func() {
			lb.Attach("a", func(ctx context.Context, msg wire.Message) (wire.Message, error) {
				time.Sleep(30 * time.Millisecond)
				return dev.Handle(ctx, msg)
			})
			ok := sy.SyncDevice(context.Background(), "cam-01", 3)

			Convey("Then the previous estimate survives intact", func() {
				So(ok, ShouldBeFalse)

				snap, _ := sy.Device("cam-01")
				So(snap.State, ShouldEqual, device.StateSynchronized)
				So(snap.History, ShouldHaveLength, 3)
				So(snap.Offset, ShouldBeBetween, 8*time.Millisecond, 12*time.Millisecond)
			})
		})
	})
}

func TestSynchronizer_RetryBudget(t *testing.T) {
	Convey("Given a device that never answers", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		reg := registry.New()
		sy := clocksync.New(reg, lb, clocksync.WithPolicy(fastPolicy(3)))
		sy.Register("cam-01", "nowhere")

		Convey("When a sync round runs", func() {
			ok := sy.SyncDevice(context.Background(), "cam-01", 5)

			Convey("Then the device is disconnected after the retry budget", func() {
				So(ok, ShouldBeFalse)

				snap, _ := sy.Device("cam-01")
				So(snap.State, ShouldEqual, device.StateDisconnected)
				So(snap.Failures, ShouldEqual, 3)
				So(snap.History, ShouldBeEmpty)
			})
		})
	})
}

func TestSynchronizer_LateResponse(t *testing.T) {
	Convey("Given a synchronized device that starts answering too late", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		dev := simdevice.New("cam-01", simdevice.WithSkew(5*time.Millisecond))
		var stall atomic.Bool
		lb.Attach("a", func(ctx context.Context, msg wire.Message) (wire.Message, error) {
			if stall.Load() {
				time.Sleep(60 * time.Millisecond)
			}
			return dev.Handle(ctx, msg)
		})

		reg := registry.New()
		sy := clocksync.New(reg, lb,
			clocksync.WithPolicy(fastPolicy(3)),
			clocksync.WithExchangeTimeout(20*time.Millisecond),
		)
		sy.Register("cam-01", "a")
		So(sy.SyncDevice(context.Background(), "cam-01", 5), ShouldBeTrue)

		Convey("When replies start arriving after the exchange timeout", func() {
			stall.Store(true)
			ok := sy.SyncDevice(context.Background(), "cam-01", 5)

			Convey("Then late replies count as failures and the history survives", func() {
				So(ok, ShouldBeFalse)

				snap, _ := sy.Device("cam-01")
				So(snap.State, ShouldEqual, device.StateDisconnected)
				So(snap.Failures, ShouldEqual, 3)
				So(snap.History, ShouldHaveLength, 5)
				So(snap.Offset, ShouldBeBetween, 3*time.Millisecond, 7*time.Millisecond)
			})
		})
	})
}

func TestSynchronizer_ClockAnomaly(t *testing.T) {
	Convey("Given a synchronized device whose clock suddenly steps", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		steady := simdevice.New("cam-01", simdevice.WithSkew(10*time.Millisecond))
		lb.Attach("a", steady.Handle)

		reg := registry.New(registry.WithHistorySize(3))
		sy := clocksync.New(reg, lb,
			clocksync.WithPolicy(fastPolicy(3)),
			clocksync.WithMaxOffsetJump(50*time.Millisecond),
		)
		sy.Register("cam-01", "a")
		So(sy.SyncDevice(context.Background(), "cam-01", 3), ShouldBeTrue)

		before, _ := sy.Quality("cam-01")
		So(before, ShouldEqual, device.QualityExcellent)

		Convey("When the device clock jumps by 400ms", func() {
			stepped := simdevice.New("cam-01", simdevice.WithSkew(410*time.Millisecond))
			lb.Attach("a", stepped.Handle)
			So(sy.SyncDevice(context.Background(), "cam-01", 3), ShouldBeTrue)

			Convey("Then the new estimate lands but quality is degraded", func() {
				offset, _ := sy.Offset("cam-01")
				So(offset, ShouldBeBetween, 405*time.Millisecond, 415*time.Millisecond)

				after, _ := sy.Quality("cam-01")
				So(after, ShouldEqual, device.QualityGood)
			})
		})
	})
}

func TestSynchronizer_ResyncInterval(t *testing.T) {
	Convey("Given configured adaptive intervals", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		sy := clocksync.New(registry.New(), lb, clocksync.WithResyncIntervals(clocksync.ResyncIntervals{
			Excellent: 30 * time.Second,
			Good:      15 * time.Second,
			Fair:      5 * time.Second,
			Poor:      time.Second,
		}))

		Convey("Then each quality maps to its cadence", func() {
			So(sy.ResyncInterval(device.QualityExcellent), ShouldEqual, 30*time.Second)
			So(sy.ResyncInterval(device.QualityGood), ShouldEqual, 15*time.Second)
			So(sy.ResyncInterval(device.QualityFair), ShouldEqual, 5*time.Second)
			So(sy.ResyncInterval(device.QualityPoor), ShouldEqual, time.Second)
		})

		Convey("Then an unknown quality syncs as aggressively as POOR", func() {
			So(sy.ResyncInterval(device.QualityUnknown), ShouldEqual, time.Second)
		})
	})
}

func TestSynchronizer_Loop(t *testing.T) {
	Convey("Given a running synchronizer with one device", t, func() {
		lb := transport.NewLoopback()
		defer lb.Close()

		dev := simdevice.New("cam-01", simdevice.WithSkew(3*time.Millisecond))
		lb.Attach("a", dev.Handle)

		reg := registry.New()
		sy := clocksync.New(reg, lb, clocksync.WithPolicy(fastPolicy(3)))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sy.Start(ctx)
		defer sy.Stop()

		Convey("When a device registers while running", func() {
			sy.Register("cam-01", "a")

			Convey("Then its loop synchronizes it without an explicit call", func() {
				deadline := time.Now().Add(2 * time.Second)
				var snap device.Device
				for time.Now().Before(deadline) {
					snap, _ = sy.Device("cam-01")
					if snap.Synchronized() {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(snap.State, ShouldEqual, device.StateSynchronized)
				So(snap.Offset, ShouldBeBetween, time.Millisecond, 5*time.Millisecond)
			})
		})
	})
}
