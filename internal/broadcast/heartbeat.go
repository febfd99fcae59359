package broadcast

import (
	"context"
	"time"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/pkg/logger"
	"github.com/chronomesh/chronomesh/pkg/metrics"
)

// monitor tracks heartbeat liveness for one device.
type monitor struct {
	cancel  context.CancelFunc
	seq     int64
	misses  int
	healthy bool
}

// StartHeartbeat begins probing the device at the given interval. A device
// is marked unhealthy after the configured number of consecutive misses
// and healthy again on the first successful probe.
func (b *Broadcaster) StartHeartbeat(ctx context.Context, id string, interval time.Duration) {
	b.hbMu.Lock()
	if existing, ok := b.monitors[id]; ok {
		existing.cancel()
	}
	hbCtx, cancel := context.WithCancel(ctx)
	mon := &monitor{cancel: cancel, healthy: true}
	b.monitors[id] = mon
	b.hbMu.Unlock()

	go b.runHeartbeat(hbCtx, id, mon, interval)
}

// StopHeartbeat stops probing the device. Its last known health state is
// retained.
func (b *Broadcaster) StopHeartbeat(id string) {
	b.hbMu.Lock()
	if mon, ok := b.monitors[id]; ok {
		mon.cancel()
	}
	b.hbMu.Unlock()
}

// Healthy reports whether the device is currently considered alive.
// Devices without heartbeat tracking are considered healthy.
func (b *Broadcaster) Healthy(id string) bool {
	b.hbMu.Lock()
	defer b.hbMu.Unlock()
	mon, ok := b.monitors[id]
	if !ok {
		return true
	}
	return mon.healthy
}

func (b *Broadcaster) runHeartbeat(ctx context.Context, id string, mon *monitor, interval time.Duration) {
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		b.probe(ctx, id, mon)
	}
}

// probe sends one heartbeat and updates the miss count.
func (b *Broadcaster) probe(ctx context.Context, id string, mon *monitor) {
	b.hbMu.Lock()
	mon.seq++
	seq := mon.seq
	b.hbMu.Unlock()

	ok := b.heartbeatOnce(ctx, id, seq)

	b.hbMu.Lock()
	defer b.hbMu.Unlock()

	if ok {
		mon.misses = 0
		if !mon.healthy {
			mon.healthy = true
			b.logger.Info(ctx, "device healthy again", logger.String("device", id))
			metrics.UpdateUnhealthyDevices(b.unhealthyLocked())
		}
		return
	}

	mon.misses++
	metrics.RecordHeartbeatMiss()
	if mon.healthy && mon.misses >= b.missLimit {
		mon.healthy = false
		b.logger.Warn(ctx, "device unhealthy, excluding from coordination",
			logger.String("device", id),
			logger.Int("misses", mon.misses),
		)
		metrics.UpdateUnhealthyDevices(b.unhealthyLocked())
	}
}

func (b *Broadcaster) heartbeatOnce(ctx context.Context, id string, seq int64) bool {
	addr, err := b.addr(id)
	if err != nil {
		return false
	}
	reply, err := b.tr.Exchange(ctx, addr, wire.Heartbeat{DeviceID: id, Seq: seq}, b.ackTimeout)
	if err != nil {
		return false
	}
	ack, ok := reply.(wire.HeartbeatAck)
	return ok && ack.Seq == seq
}

// unhealthyLocked counts unhealthy devices. Caller holds hbMu.
func (b *Broadcaster) unhealthyLocked() int {
	n := 0
	for _, mon := range b.monitors {
		if !mon.healthy {
			n++
		}
	}
	return n
}
