package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/chronomesh/chronomesh/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	Convey("Given no configuration sources", t, func() {
		cfg, err := config.Load(context.Background())

		Convey("Then defaults apply", func() {
			So(err, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":9080")
			So(cfg.HistorySize, ShouldEqual, 10)
			So(cfg.MeasurementsPerSync, ShouldEqual, 5)
			So(cfg.QualityExcellentMS, ShouldEqual, 5)
			So(cfg.QualityGoodMS, ShouldEqual, 20)
			So(cfg.QualityFairMS, ShouldEqual, 50)
			So(cfg.ResyncPoorMS, ShouldEqual, 1000)
			So(cfg.LeadTimeSafetyFactor, ShouldEqual, 3.0)
			So(cfg.MaxOffsetJumpMS, ShouldEqual, 250)
		})
	})
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHRONO_ADDR", ":7070")
	t.Setenv("CHRONO_HISTORY_SIZE", "25")
	t.Setenv("CHRONO_MAX_RTT_MS", "400")

	Convey("Given CHRONO_ environment overrides", t, func() {
		cfg, err := config.Load(context.Background())

		Convey("Then they take precedence over defaults", func() {
			So(err, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":7070")
			So(cfg.HistorySize, ShouldEqual, 25)
			So(cfg.MaxRTTMS, ShouldEqual, 400)
			// Untouched fields keep their defaults.
			So(cfg.MaxRetries, ShouldEqual, 5)
		})
	})
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chronomesh.yaml")
	err := os.WriteFile(path, []byte("addr: \":6060\"\nheartbeat_miss_limit: 5\n"), 0o600)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHRONO_CONFIG", path)
	t.Setenv("CHRONO_HEARTBEAT_MISS_LIMIT", "7")

	Convey("Given a YAML file and an env override", t, func() {
		cfg, lerr := config.Load(context.Background())

		Convey("Then env beats file beats defaults", func() {
			So(lerr, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":6060")
			So(cfg.HeartbeatMissLimit, ShouldEqual, 7)
		})
	})
}

func TestLoad_RejectsNonPositiveHistory(t *testing.T) {
	t.Setenv("CHRONO_HISTORY_SIZE", "0")

	Convey("Given a zero history_size", t, func() {
		_, err := config.Load(context.Background())
		So(err, ShouldWrap, config.ErrInvalidConfig)
	})
}

func TestLoad_RejectsNonIncreasingThresholds(t *testing.T) {
	t.Setenv("CHRONO_QUALITY_EXCELLENT_MS", "60")

	Convey("Given quality thresholds that are not strictly increasing", t, func() {
		_, err := config.Load(context.Background())
		So(err, ShouldWrap, config.ErrInvalidConfig)
	})
}

func TestLoad_RejectsShrinkingSafetyFactor(t *testing.T) {
	t.Setenv("CHRONO_LEAD_TIME_SAFETY_FACTOR", "0.5")

	Convey("Given a safety factor below one", t, func() {
		_, err := config.Load(context.Background())
		So(err, ShouldWrap, config.ErrInvalidConfig)
	})
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("CHRONO_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	Convey("Given a CHRONO_CONFIG path that does not exist", t, func() {
		_, err := config.Load(context.Background())

		Convey("Then loading fails", func() {
			So(err, ShouldWrap, config.ErrLoadConfig)
		})
	})
}
