// Package coord groups devices, elects a timing master from synchronized
// members, and drives coordinated-start sessions: all group members receive
// a start command converted to their own local clocks so recording begins
// within a bounded simultaneity window.
package coord

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/chronomesh/chronomesh/internal/broadcast"
	"github.com/chronomesh/chronomesh/internal/clocksync"
	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/internal/registry"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Default coordinator configuration constants.
const (
	defaultSafetyFactor    = 3.0
	defaultScheduleMargin  = 50 * time.Millisecond
	defaultTimingThreshold = 10 * time.Millisecond
	defaultReportGrace     = 100 * time.Millisecond
)

// Group is a named, ordered set of unique device ids with an optionally
// elected timing master.
type Group struct {
	Name    string
	Members []string
	Master  string
}

// Coordinator drives multi-device coordination on top of the synchronizer
// and broadcaster.
type Coordinator struct {
	reg   *registry.Registry
	sync  *clocksync.Synchronizer
	bc    *broadcast.Broadcaster
	clock clockwork.Clock

	safetyFactor    float64
	scheduleMargin  time.Duration
	timingThreshold time.Duration
	reportGrace     time.Duration

	mu       sync.RWMutex
	groups   map[string]*Group
	sessions map[string]*Session

	logger logger.Logger
}

// New creates a Coordinator with configuration options.
func New(reg *registry.Registry, sy *clocksync.Synchronizer, bc *broadcast.Broadcaster, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:             reg,
		sync:            sy,
		bc:              bc,
		clock:           clockwork.NewRealClock(),
		safetyFactor:    defaultSafetyFactor,
		scheduleMargin:  defaultScheduleMargin,
		timingThreshold: defaultTimingThreshold,
		reportGrace:     defaultReportGrace,
		groups:          make(map[string]*Group),
		sessions:        make(map[string]*Session),
		logger:          logger.Get().Named("coord"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateGroup creates or replaces a named group. Duplicate ids are
// collapsed preserving first occurrence; every member must be registered.
func (c *Coordinator) CreateGroup(name string, deviceIDs []string) (*Group, error) {
	if name == "" || len(deviceIDs) == 0 {
		return nil, ErrEmptyGroup
	}

	seen := make(map[string]bool, len(deviceIDs))
	members := make([]string, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		if seen[id] {
			continue
		}
		if _, ok := c.reg.Cell(id); !ok {
			return nil, registry.ErrUnknownDevice
		}
		seen[id] = true
		members = append(members, id)
	}

	g := &Group{Name: name, Members: members}
	c.mu.Lock()
	c.groups[name] = g
	c.mu.Unlock()
	return c.groupSnapshot(name), nil
}

// Group returns a snapshot of the named group.
func (c *Coordinator) Group(name string) (*Group, bool) {
	g := c.groupSnapshot(name)
	return g, g != nil
}

// Groups returns snapshots of all groups, ordered by name.
func (c *Coordinator) Groups() []*Group {
	c.mu.RLock()
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	out := make([]*Group, 0, len(names))
	for _, name := range names {
		out = append(out, c.groupSnapshot(name))
	}
	return out
}

func (c *Coordinator) groupSnapshot(name string) *Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[name]
	if !ok {
		return nil
	}
	return &Group{
		Name:    g.Name,
		Members: append([]string(nil), g.Members...),
		Master:  g.Master,
	}
}

// CoordinateGroupSync re-syncs every group member in parallel and elects a
// timing master. The per-device map reports which members synced.
func (c *Coordinator) CoordinateGroupSync(ctx context.Context, groupName string) (map[string]bool, error) {
	g := c.groupSnapshot(groupName)
	if g == nil {
		return nil, ErrUnknownGroup
	}

	results := make(map[string]bool, len(g.Members))
	var resultsMu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range g.Members {
		id := id
		eg.Go(func() error {
			ok := c.sync.SyncDevice(egCtx, id, 0)
			resultsMu.Lock()
			results[id] = ok
			resultsMu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	master, err := c.electMaster(g.Members)
	if err != nil {
		return results, err
	}

	c.mu.Lock()
	if cur, ok := c.groups[groupName]; ok {
		cur.Master = master
	}
	c.mu.Unlock()

	c.logger.Info(ctx, "group synced",
		logger.String("group", groupName),
		logger.String("master", master),
	)
	return results, nil
}

// Quality exposes the current quality of a device for export tooling.
func (c *Coordinator) Quality(id string) (device.Quality, error) {
	return c.sync.Quality(id)
}

// Offset exposes the current offset of a device for export tooling.
func (c *Coordinator) Offset(id string) (time.Duration, error) {
	return c.sync.Offset(id)
}

// Session returns a session by id.
func (c *Coordinator) Session(id string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Sessions returns the results of all sessions, newest id order not
// guaranteed; callers sort as needed.
func (c *Coordinator) Sessions() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Result, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Result())
	}
	return out
}

// ReportActualStart ingests a device's actual start report pushed from an
// external ingest path (as opposed to the coordinator's own polling).
func (c *Coordinator) ReportActualStart(sessionID, deviceID string, actualLocal int64) error {
	s, ok := c.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	if s.State().Terminal() {
		return ErrSessionTerminal
	}
	if !s.recordReport(deviceID, actualLocal) {
		return ErrUnknownDeviceReport
	}
	return nil
}

// newSession creates and registers a FORMING session for a group.
func (c *Coordinator) newSession(groupName string) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Group:     groupName,
		state:     StateForming,
		offsets:   make(map[string]time.Duration),
		scheduled: make(map[string]int64),
		acked:     make(map[string]bool),
		excluded:  make(map[string]string),
		reports:   make(map[string]int64),
		done:      make(chan struct{}),
	}
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
	return s
}
