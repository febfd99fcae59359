// Package clocksync estimates per-device clock offsets through NTP-style
// four-timestamp exchanges, maintains a rolling measurement window per
// device, and derives a quality level from the estimate's uncertainty.
// Each registered device owns an independent background resync loop whose
// cadence adapts to its own quality.
package clocksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/internal/adapters/transport"
	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/internal/domain/backoff"
	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/internal/registry"
	"github.com/chronomesh/chronomesh/pkg/logger"
	"github.com/chronomesh/chronomesh/pkg/metrics"
)

// Default synchronizer configuration constants.
const (
	defaultMaxRTT              = 1000 * time.Millisecond
	defaultExchangeTimeout     = 1000 * time.Millisecond
	defaultMaxOffsetJump       = 250 * time.Millisecond
	defaultMeasurementsPerSync = 5
)

// ResyncIntervals maps each quality level to its resync cadence.
type ResyncIntervals struct {
	Excellent time.Duration
	Good      time.Duration
	Fair      time.Duration
	Poor      time.Duration
}

// defaultResync returns the stock adaptive intervals.
func defaultResync() ResyncIntervals {
	return ResyncIntervals{
		Excellent: 30 * time.Second,
		Good:      15 * time.Second,
		Fair:      5 * time.Second,
		Poor:      1 * time.Second,
	}
}

// Synchronizer drives offset estimation for every registered device.
type Synchronizer struct {
	reg    *registry.Registry
	tr     transport.Transport
	policy *backoff.Policy
	clock  clockwork.Clock

	thresholds          device.Thresholds
	resync              ResyncIntervals
	maxRTT              time.Duration
	exchangeTimeout     time.Duration
	maxOffsetJump       time.Duration
	measurementsPerSync int

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	loops   map[string]context.CancelFunc
	wg      sync.WaitGroup

	logger logger.Logger
}

// New creates a Synchronizer over the given registry and transport.
func New(reg *registry.Registry, tr transport.Transport, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		reg:    reg,
		tr:     tr,
		policy: backoff.New(),
		clock:  clockwork.NewRealClock(),
		thresholds: device.Thresholds{
			Excellent: 5 * time.Millisecond,
			Good:      20 * time.Millisecond,
			Fair:      50 * time.Millisecond,
		},
		resync:              defaultResync(),
		maxRTT:              defaultMaxRTT,
		exchangeTimeout:     defaultExchangeTimeout,
		maxOffsetJump:       defaultMaxOffsetJump,
		measurementsPerSync: defaultMeasurementsPerSync,
		loops:               make(map[string]context.CancelFunc),
		logger:              logger.Get().Named("clocksync"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register adds a device and, if the synchronizer is running, starts its
// background resync loop.
func (s *Synchronizer) Register(id, addr string) {
	s.reg.Register(id, addr)

	s.mu.Lock()
	running := s.running
	ctx := s.baseCtx
	s.mu.Unlock()
	if running {
		s.startLoop(ctx, id)
	}
}

// Deregister stops the device's loop and removes it from the registry.
func (s *Synchronizer) Deregister(id string) {
	s.stopLoop(id)
	s.reg.Deregister(id)
}

// Start launches resync loops for all currently registered devices.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.baseCtx = ctx
	s.mu.Unlock()

	for _, id := range s.reg.IDs() {
		s.startLoop(ctx, id)
	}
}

// Stop cancels every device loop and waits for them to exit.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.running = false
	for id, cancel := range s.loops {
		cancel()
		delete(s.loops, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// SyncOnce performs a single four-timestamp exchange with the device. It
// does not mutate device state; SyncDevice owns state transitions.
func (s *Synchronizer) SyncOnce(ctx context.Context, id string) (device.Measurement, error) {
	cell, ok := s.reg.Cell(id)
	if !ok {
		return device.Measurement{}, registry.ErrUnknownDevice
	}
	snap := cell.Snapshot()

	clientSend := s.clock.Now().UnixNano()
	reply, err := s.tr.Exchange(ctx, snap.Addr, wire.SyncRequest{
		DeviceID:   id,
		ClientSend: clientSend,
	}, s.exchangeTimeout)
	clientReceive := s.clock.Now().UnixNano()

	if err != nil {
		metrics.RecordSyncFailure()
		return device.Measurement{}, err
	}

	resp, ok := reply.(wire.SyncResponse)
	if !ok {
		metrics.RecordSyncFailure()
		return device.Measurement{}, fmt.Errorf("%w: got %T", ErrBadResponse, reply)
	}
	if resp.ClientSend != clientSend {
		// A stale reply from an earlier, timed-out exchange.
		metrics.RecordSyncFailure()
		return device.Measurement{}, fmt.Errorf("%w: origin stamp mismatch", ErrBadResponse)
	}

	m := device.Measurement{
		ClientSend:    clientSend,
		ServerReceive: resp.ServerReceive,
		ServerSend:    resp.ServerSend,
		ClientReceive: clientReceive,
	}
	metrics.RecordSyncExchange()
	metrics.RecordExchangeRTT(m.RTT().Seconds())
	return m, nil
}

// SyncDevice runs numMeasurements exchanges against the device, filters
// outliers, and updates the device's offset, uncertainty and quality.
// Failed exchanges are retried per the recovery policy; exhausting the
// budget transitions the device to DISCONNECTED. Returns true if at least
// one measurement was retained.
func (s *Synchronizer) SyncDevice(ctx context.Context, id string, numMeasurements int) bool {
	cell, ok := s.reg.Cell(id)
	if !ok {
		return false
	}
	if numMeasurements < 1 {
		numMeasurements = s.measurementsPerSync
	}

	wasSynced := false
	cell.Update(func(d *device.Device, _ *device.Window) {
		wasSynced = d.State == device.StateSynchronized
		if d.State == device.StateDisconnected {
			d.State = device.StateConnecting
		}
		d.State = device.StateSyncing
	})

	retained := 0
	for i := 0; i < numMeasurements; i++ {
		m, err := s.SyncOnce(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			abandoned := s.recordFailure(cell, id)
			if abandoned {
				break
			}
			var failures int
			cell.Update(func(d *device.Device, _ *device.Window) { failures = d.Failures })
			delay := s.policy.NextDelay(failures - 1)
			if !s.sleep(ctx, delay) {
				break
			}
			continue
		}

		if m.RTT() > s.maxRTT {
			// Congested or blocked link; the sample would poison the window.
			metrics.RecordMeasurementDropped()
			s.logger.Debug(ctx, "discarding outlier measurement",
				logger.String("device", id),
				logger.Duration("rtt", m.RTT()),
			)
			continue
		}

		retained++
		cell.Update(func(d *device.Device, w *device.Window) {
			w.Add(m)
			d.Failures = 0
		})
	}

	if retained > 0 {
		s.recompute(ctx, cell, id, wasSynced)
		return true
	}

	// Nothing retained and no failure transition fired (an all-outlier
	// round): a previously synced device keeps its estimate, anything
	// else stays in recovery until a round lands.
	cell.Update(func(d *device.Device, _ *device.Window) {
		if d.State != device.StateSyncing {
			return
		}
		if wasSynced {
			d.State = device.StateSynchronized
			return
		}
		d.State = device.StateRecovering
	})
	return false
}

// recordFailure bumps the consecutive failure count, moving the device to
// RECOVERING or, past the retry budget, DISCONNECTED. Returns true when
// the budget is exhausted.
func (s *Synchronizer) recordFailure(cell *registry.Cell, id string) bool {
	var abandoned bool
	cell.Update(func(d *device.Device, _ *device.Window) {
		d.Failures++
		if s.policy.ShouldAbandon(d.Failures) {
			d.State = device.StateDisconnected
			abandoned = true
			return
		}
		d.State = device.StateRecovering
	})
	if abandoned {
		s.logger.Warn(context.Background(), "retry budget exhausted, disconnecting device",
			logger.String("device", id),
			logger.Int("attempts", s.policy.MaxAttempts()),
		)
	}
	return abandoned
}

// recompute refreshes the device's aggregate estimate from its window and
// flags clock anomalies. wasSynced marks devices that held an estimate
// before this round; only those can be compared against their last offset.
func (s *Synchronizer) recompute(ctx context.Context, cell *registry.Cell, id string, wasSynced bool) {
	now := s.clock.Now()
	cell.Update(func(d *device.Device, w *device.Window) {
		ms := w.Measurements()
		newOffset := device.WeightedOffset(ms)
		uncertainty := device.Uncertainty(ms)
		quality := device.Classify(uncertainty, s.thresholds)

		if wasSynced {
			jump := newOffset - d.Offset
			if jump < 0 {
				jump = -jump
			}
			if jump > s.maxOffsetJump {
				quality = quality.Degrade()
				metrics.RecordClockAnomaly()
				s.logger.Warn(ctx, "clock anomaly: offset jumped between estimates",
					logger.String("device", id),
					logger.Duration("jump", jump),
				)
			}
		}

		d.Offset = newOffset
		d.Uncertainty = uncertainty
		d.Quality = quality
		d.State = device.StateSynchronized
		d.LastSync = now
	})
}

// Offset returns the device's current offset estimate.
func (s *Synchronizer) Offset(id string) (time.Duration, error) {
	snap, err := s.snapshot(id)
	if err != nil {
		return 0, err
	}
	return snap.Offset, nil
}

// Quality returns the device's current quality level.
func (s *Synchronizer) Quality(id string) (device.Quality, error) {
	snap, err := s.snapshot(id)
	if err != nil {
		return device.QualityUnknown, err
	}
	return snap.Quality, nil
}

// Uncertainty returns the device's current offset uncertainty.
func (s *Synchronizer) Uncertainty(id string) (time.Duration, error) {
	snap, err := s.snapshot(id)
	if err != nil {
		return 0, err
	}
	return snap.Uncertainty, nil
}

// CorrectedNow estimates the device's current local clock reading:
// reference now plus the device's offset.
func (s *Synchronizer) CorrectedNow(id string) (time.Time, error) {
	snap, err := s.snapshot(id)
	if err != nil {
		return time.Time{}, err
	}
	if !snap.Synchronized() {
		return time.Time{}, ErrNotSynchronized
	}
	return s.clock.Now().Add(snap.Offset), nil
}

// Device returns a snapshot of the device state.
func (s *Synchronizer) Device(id string) (device.Device, error) {
	return s.snapshot(id)
}

// ResyncInterval returns the cadence implied by a quality level. UNKNOWN
// syncs as aggressively as POOR.
func (s *Synchronizer) ResyncInterval(q device.Quality) time.Duration {
	switch q {
	case device.QualityExcellent:
		return s.resync.Excellent
	case device.QualityGood:
		return s.resync.Good
	case device.QualityFair:
		return s.resync.Fair
	default:
		return s.resync.Poor
	}
}

func (s *Synchronizer) snapshot(id string) (device.Device, error) {
	cell, ok := s.reg.Cell(id)
	if !ok {
		return device.Device{}, registry.ErrUnknownDevice
	}
	return cell.Snapshot(), nil
}

// sleep waits for d on the injected clock. Returns false if ctx ended.
func (s *Synchronizer) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := s.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}
