// Package app provides the service facade that wires the registry,
// synchronizer, broadcaster and coordinator together and exposes the
// operations consumed by the HTTP status surface and the device-discovery
// layer.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/internal/adapters/transport"
	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/internal/broadcast"
	"github.com/chronomesh/chronomesh/internal/clocksync"
	"github.com/chronomesh/chronomesh/internal/config"
	"github.com/chronomesh/chronomesh/internal/coord"
	"github.com/chronomesh/chronomesh/internal/domain/backoff"
	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/internal/registry"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Service is the assembled sync engine.
type Service struct {
	cfg   *config.Config
	tr    transport.Transport
	clock clockwork.Clock

	reg  *registry.Registry
	sync *clocksync.Synchronizer
	bc   *broadcast.Broadcaster
	co   *coord.Coordinator

	mu      sync.Mutex
	started bool
	baseCtx context.Context

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the engine configuration. Defaults apply when omitted.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithTransport sets the device transport. Defaults to WebSocket.
func WithTransport(tr transport.Transport) Option {
	return func(s *Service) {
		if tr != nil {
			s.tr = tr
		}
	}
}

// WithClock sets the clock shared by all components.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs the engine from configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		clock:  clockwork.NewRealClock(),
		logger: logger.Get().Named("app"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.tr == nil {
		s.tr = transport.NewWS()
	}

	cfg := s.cfg
	ms := time.Millisecond

	s.reg = registry.New(registry.WithHistorySize(cfg.HistorySize))

	policy := backoff.New(
		backoff.WithBase(time.Duration(cfg.BackoffBaseMS)*ms),
		backoff.WithCap(time.Duration(cfg.BackoffCapMS)*ms),
		backoff.WithMaxAttempts(cfg.MaxRetries),
	)

	s.sync = clocksync.New(s.reg, s.tr,
		clocksync.WithClock(s.clock),
		clocksync.WithPolicy(policy),
		clocksync.WithThresholds(device.Thresholds{
			Excellent: time.Duration(cfg.QualityExcellentMS) * ms,
			Good:      time.Duration(cfg.QualityGoodMS) * ms,
			Fair:      time.Duration(cfg.QualityFairMS) * ms,
		}),
		clocksync.WithResyncIntervals(clocksync.ResyncIntervals{
			Excellent: time.Duration(cfg.ResyncExcellentMS) * ms,
			Good:      time.Duration(cfg.ResyncGoodMS) * ms,
			Fair:      time.Duration(cfg.ResyncFairMS) * ms,
			Poor:      time.Duration(cfg.ResyncPoorMS) * ms,
		}),
		clocksync.WithMaxRTT(time.Duration(cfg.MaxRTTMS)*ms),
		clocksync.WithExchangeTimeout(time.Duration(cfg.ExchangeTimeoutMS)*ms),
		clocksync.WithMaxOffsetJump(time.Duration(cfg.MaxOffsetJumpMS)*ms),
		clocksync.WithMeasurementsPerSync(cfg.MeasurementsPerSync),
	)

	s.bc = broadcast.New(s.reg, s.tr,
		broadcast.WithClock(s.clock),
		broadcast.WithAckTimeout(time.Duration(cfg.AckTimeoutMS)*ms),
		broadcast.WithHistorySize(cfg.EventHistorySize),
		broadcast.WithMissLimit(cfg.HeartbeatMissLimit),
	)

	s.co = coord.New(s.reg, s.sync, s.bc,
		coord.WithClock(s.clock),
		coord.WithSafetyFactor(cfg.LeadTimeSafetyFactor),
		coord.WithScheduleMargin(time.Duration(cfg.ScheduleMarginMS)*ms),
		coord.WithTimingThreshold(time.Duration(cfg.TimingErrorThresholdMS)*ms),
		coord.WithReportGrace(time.Duration(cfg.ReportGraceMS)*ms),
	)

	return s
}

// Start launches the background sync loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.sync.Start(ctx)
	s.logger.Info(ctx, "sync engine started")
	return nil
}

// Stop shuts down all background loops.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	for _, id := range s.reg.IDs() {
		s.bc.StopHeartbeat(id)
	}
	s.sync.Stop()
}

// RegisterDevice adds a device from the discovery layer and begins both
// its resync loop and heartbeat tracking.
func (s *Service) RegisterDevice(id, addr string) {
	s.sync.Register(id, addr)

	s.mu.Lock()
	started := s.started
	ctx := s.baseCtx
	s.mu.Unlock()
	if started {
		s.bc.StartHeartbeat(ctx, id, time.Duration(s.cfg.HeartbeatIntervalMS)*time.Millisecond)
	}
}

// DeregisterDevice removes a device.
func (s *Service) DeregisterDevice(id string) {
	s.bc.StopHeartbeat(id)
	s.sync.Deregister(id)
}

// Devices returns snapshots of all registered devices.
func (s *Service) Devices() []device.Device {
	return s.reg.Snapshots()
}

// Device returns one device snapshot.
func (s *Service) Device(id string) (device.Device, error) {
	return s.sync.Device(id)
}

// Healthy reports heartbeat liveness for a device.
func (s *Service) Healthy(id string) bool {
	return s.bc.Healthy(id)
}

// SyncDevice runs one explicit sync round against a device.
func (s *Service) SyncDevice(ctx context.Context, id string, n int) bool {
	return s.sync.SyncDevice(ctx, id, n)
}

// CorrectedNow estimates a device's current local clock reading.
func (s *Service) CorrectedNow(id string) (time.Time, error) {
	return s.sync.CorrectedNow(id)
}

// CreateGroup creates or replaces a device group.
func (s *Service) CreateGroup(name string, deviceIDs []string) (*coord.Group, error) {
	return s.co.CreateGroup(name, deviceIDs)
}

// Groups lists all groups.
func (s *Service) Groups() []*coord.Group {
	return s.co.Groups()
}

// CoordinateGroupSync re-syncs a group and elects its master.
func (s *Service) CoordinateGroupSync(ctx context.Context, name string) (map[string]bool, error) {
	return s.co.CoordinateGroupSync(ctx, name)
}

// ScheduleCoordinatedStart schedules a coordinated start for a group.
func (s *Service) ScheduleCoordinatedStart(ctx context.Context, name string, leadTime time.Duration) (*coord.Session, error) {
	return s.co.ScheduleCoordinatedStart(ctx, name, leadTime)
}

// CancelSession aborts a session before it starts.
func (s *Service) CancelSession(ctx context.Context, id string) error {
	return s.co.CancelSession(ctx, id)
}

// Sessions lists all session results.
func (s *Service) Sessions() []coord.Result {
	return s.co.Sessions()
}

// Session returns one session result.
func (s *Service) Session(id string) (coord.Result, bool) {
	sess, ok := s.co.Session(id)
	if !ok {
		return coord.Result{}, false
	}
	return sess.Result(), true
}

// Broadcast fans a marker out to the given devices, or to all registered
// devices when targets is empty.
func (s *Service) Broadcast(ctx context.Context, kind wire.Kind, payload map[string]string, targets []string) *broadcast.Event {
	if len(targets) == 0 {
		targets = s.reg.IDs()
	}
	return s.bc.Broadcast(ctx, kind, payload, targets)
}

// AwaitAcks waits for a broadcast's per-device outcomes.
func (s *Service) AwaitAcks(ctx context.Context, ev *broadcast.Event, timeout time.Duration) map[string]broadcast.DeliveryStatus {
	return s.bc.AwaitAcks(ctx, ev, timeout)
}

// EventHistory returns the retained broadcast events.
func (s *Service) EventHistory() []*broadcast.Event {
	return s.bc.History()
}
