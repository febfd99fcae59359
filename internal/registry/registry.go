// Package registry holds the shared device state: one cell per device,
// mutated only by that device's owning sync task and read concurrently by
// the coordinator and broadcaster. Per-cell locks keep unrelated devices'
// sync loops from serializing on each other.
package registry

import (
	"sort"
	"sync"

	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/pkg/logger"
	"github.com/chronomesh/chronomesh/pkg/metrics"
)

// Default registry configuration constants.
const (
	defaultHistorySize = 10
)

// Cell is the mutable state of one device. Only the owning sync task may
// call Update; everyone else reads snapshots.
type Cell struct {
	mu     sync.RWMutex
	dev    device.Device
	window *device.Window
}

// Snapshot returns a copy of the device state including the retained
// measurement history.
func (c *Cell) Snapshot() device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.dev
	d.History = c.window.Measurements()
	return d
}

// Update runs fn with exclusive access to the device state and its
// measurement window. fn must not retain either past the call.
func (c *Cell) Update(fn func(d *device.Device, w *device.Window)) {
	c.mu.Lock()
	fn(&c.dev, c.window)
	dev := c.dev
	c.mu.Unlock()

	metrics.UpdateDeviceOffset(dev.ID, dev.Offset.Seconds())
	metrics.UpdateDeviceQuality(dev.ID, dev.Quality.Level())
}

// Registry maps device ids to their cells.
type Registry struct {
	mu          sync.RWMutex
	cells       map[string]*Cell
	historySize int
	logger      logger.Logger
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithHistorySize sets the per-device measurement window capacity.
func WithHistorySize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.historySize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry with configuration options.
func New(opts ...Option) *Registry {
	r := &Registry{
		cells:       make(map[string]*Cell),
		historySize: defaultHistorySize,
		logger:      logger.Get().Named("registry"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a device under id. Re-registering an existing id resets
// its cell to a fresh, unsynchronized state; any in-flight coordination
// holding the old snapshot simply sees the device fail its part.
func (r *Registry) Register(id, addr string) *Cell {
	cell := &Cell{
		dev: device.Device{
			ID:      id,
			Addr:    addr,
			State:   device.StateDisconnected,
			Quality: device.QualityUnknown,
		},
		window: device.NewWindow(r.historySize),
	}

	r.mu.Lock()
	r.cells[id] = cell
	n := len(r.cells)
	r.mu.Unlock()

	metrics.UpdateRegisteredDevices(n)
	return cell
}

// Deregister removes a device. Returns false if the id was unknown.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	_, ok := r.cells[id]
	delete(r.cells, id)
	n := len(r.cells)
	r.mu.Unlock()

	if ok {
		metrics.RemoveDevice(id)
		metrics.UpdateRegisteredDevices(n)
	}
	return ok
}

// Cell returns the cell for id.
func (r *Registry) Cell(id string) (*Cell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cells[id]
	return c, ok
}

// IDs returns all registered device ids, sorted for determinism.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.cells))
	for id := range r.cells {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshots returns snapshots of all devices, ordered by id.
func (r *Registry) Snapshots() []device.Device {
	ids := r.IDs()
	out := make([]device.Device, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.Cell(id); ok {
			out = append(out, c.Snapshot())
		}
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cells)
}
