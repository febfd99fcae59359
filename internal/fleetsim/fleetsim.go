// Package fleetsim drives a simulated fleet of skewed capture devices
// against a fully wired engine over the in-process transport. It backs the
// sim-devices command and doubles as a smoke test of the whole pipeline.
package fleetsim

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/chronomesh/chronomesh/internal/adapters/transport"
	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	app "github.com/chronomesh/chronomesh/internal/app"
	"github.com/chronomesh/chronomesh/internal/config"
	"github.com/chronomesh/chronomesh/internal/simdevice"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Config holds the simulation parameters.
type Config struct {
	Devices  int
	MaxSkew  time.Duration
	Latency  time.Duration
	LeadTime time.Duration
	Verbose  bool
}

// ShowHelp prints usage information for the sim-devices command.
func ShowHelp() {
	os.Stdout.WriteString(`sim-devices runs a simulated capture fleet against the sync engine.

Each simulated device gets a random clock skew. The simulation registers
the fleet, waits for synchronization, broadcasts a calibration marker and
schedules one coordinated start, then reports the session outcome.

Flags:
  -devices   number of simulated devices
  -skew      maximum absolute clock skew per device
  -latency   one-way transport latency
  -lead      requested coordinated-start lead time
  -verbose   enable debug logging
`)
}

// Run executes one full simulation round.
func Run(ctx context.Context, simCfg *Config) error {
	if simCfg.Verbose {
		_ = logger.SetLevelString("debug")
	}
	log := logger.Get().Named("fleetsim")

	lb := transport.NewLoopback()
	defer lb.Close()

	cfg := config.New()
	cfg.HeartbeatIntervalMS = 200
	cfg.ScheduleMarginMS = 50
	cfg.ReportGraceMS = 100

	svc := app.New(
		app.WithConfig(cfg),
		app.WithTransport(lb),
		app.WithLogger(log),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer svc.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ids := make([]string, 0, simCfg.Devices)
	for i := 0; i < simCfg.Devices; i++ {
		id := fmt.Sprintf("cam-%02d", i)
		var skew time.Duration
		if simCfg.MaxSkew > 0 {
			skew = time.Duration(rng.Int63n(int64(2*simCfg.MaxSkew))) - simCfg.MaxSkew
		}
		dev := simdevice.New(id, simdevice.WithSkew(skew))

		addr := "sim/" + id
		lb.Attach(addr, dev.Handle, transport.WithLatency(simCfg.Latency))
		svc.RegisterDevice(id, addr)
		ids = append(ids, id)

		log.Info(ctx, "device attached",
			logger.String("device", id),
			logger.Duration("skew", skew))
	}

	if _, err := svc.CreateGroup("fleet", ids); err != nil {
		return fmt.Errorf("creating group: %w", err)
	}

	results, err := svc.CoordinateGroupSync(ctx, "fleet")
	if err != nil {
		return fmt.Errorf("syncing group: %w", err)
	}
	for _, id := range ids {
		d, derr := svc.Device(id)
		if derr != nil {
			continue
		}
		log.Info(ctx, "device synchronized",
			logger.String("device", id),
			logger.Bool("ok", results[id]),
			logger.Duration("offset", d.Offset),
			logger.Duration("uncertainty", d.Uncertainty),
			logger.String("quality", d.Quality.String()))
	}

	ev := svc.Broadcast(ctx, wire.KindCalibration, map[string]string{"scene": "warmup"}, nil)
	acks := svc.AwaitAcks(ctx, ev, 0)
	acked := 0
	for _, st := range acks {
		if st.Acked {
			acked++
		}
	}
	log.Info(ctx, "calibration marker broadcast",
		logger.String("event", ev.ID),
		logger.Int("acked", acked),
		logger.Int("targets", len(ids)))

	sess, err := svc.ScheduleCoordinatedStart(ctx, "fleet", simCfg.LeadTime)
	if err != nil {
		return fmt.Errorf("scheduling start: %w", err)
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	res := sess.Result()
	log.Info(ctx, "session finished",
		logger.String("session", res.SessionID),
		logger.String("state", res.State.String()),
		logger.String("master", res.Master),
		logger.Duration("lead_time", res.LeadTime),
		logger.Duration("timing_error", res.TimingError),
		logger.Int("started", len(res.Started)),
		logger.Int("excluded", len(res.Excluded)))
	for id, reason := range res.Excluded {
		log.Warn(ctx, "device excluded",
			logger.String("device", id),
			logger.String("reason", reason))
	}

	return nil
}
