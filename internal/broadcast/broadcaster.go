// Package broadcast fans sync events out to devices, collects per-device
// acknowledgments, and tracks liveness through heartbeats. Delivery to one
// device never blocks or fails delivery to another. A bounded FIFO of past
// events is retained for post-hoc verification.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/internal/adapters/transport"
	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/internal/registry"
	"github.com/chronomesh/chronomesh/pkg/logger"
	"github.com/chronomesh/chronomesh/pkg/metrics"
)

// Default broadcaster configuration constants.
const (
	defaultAckTimeout  = 2 * time.Second
	defaultHistorySize = 100
	defaultMissLimit   = 3
)

// DeliveryStatus is the outcome of one event delivery to one device.
type DeliveryStatus struct {
	Delivered bool
	Acked     bool
	Err       error
}

// Event is one broadcast sync event. The kind, payload and origin stamp
// are immutable after broadcast; only the per-device status map fills in
// as deliveries resolve.
type Event struct {
	ID              string
	Kind            wire.Kind
	Payload         map[string]string
	OriginTimestamp int64
	Targets         []string

	mu     sync.Mutex
	status map[string]DeliveryStatus
	done   chan struct{}
}

// Results returns a copy of the per-device delivery status. Devices whose
// delivery has not resolved yet report a zero-value status.
func (e *Event) Results() map[string]DeliveryStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]DeliveryStatus, len(e.status))
	for k, v := range e.status {
		out[k] = v
	}
	return out
}

// Done is closed once every delivery has resolved.
func (e *Event) Done() <-chan struct{} { return e.done }

func (e *Event) setStatus(id string, st DeliveryStatus) {
	e.mu.Lock()
	e.status[id] = st
	e.mu.Unlock()
}

// Broadcaster carries all wire messages to devices.
type Broadcaster struct {
	reg   *registry.Registry
	tr    transport.Transport
	clock clockwork.Clock

	ackTimeout  time.Duration
	historySize int
	missLimit   int

	histMu  sync.Mutex
	history []*Event

	hbMu     sync.Mutex
	monitors map[string]*monitor

	logger logger.Logger
}

// New creates a Broadcaster over the given registry and transport.
func New(reg *registry.Registry, tr transport.Transport, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		reg:         reg,
		tr:          tr,
		clock:       clockwork.NewRealClock(),
		ackTimeout:  defaultAckTimeout,
		historySize: defaultHistorySize,
		missLimit:   defaultMissLimit,
		monitors:    make(map[string]*monitor),
		logger:      logger.Get().Named("broadcast"),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Broadcast sends a marker of the given kind to every target concurrently
// and returns the event handle immediately. Use AwaitAcks to wait for the
// per-device outcomes.
func (b *Broadcaster) Broadcast(ctx context.Context, kind wire.Kind, payload map[string]string, targets []string) *Event {
	ev := &Event{
		ID:              uuid.NewString(),
		Kind:            kind,
		Payload:         payload,
		OriginTimestamp: b.clock.Now().UnixNano(),
		Targets:         append([]string(nil), targets...),
		status:          make(map[string]DeliveryStatus, len(targets)),
		done:            make(chan struct{}),
	}
	b.appendHistory(ev)
	metrics.RecordBroadcast()

	marker := wire.Marker{
		Kind:            kind,
		OriginTimestamp: ev.OriginTimestamp,
		Payload:         payload,
	}

	var wg sync.WaitGroup
	for _, id := range ev.Targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ev.setStatus(id, b.deliver(ctx, id, marker))
		}(id)
	}
	go func() {
		wg.Wait()
		close(ev.done)
	}()

	return ev
}

// deliver sends one marker to one device and interprets the ack.
func (b *Broadcaster) deliver(ctx context.Context, id string, marker wire.Marker) DeliveryStatus {
	addr, err := b.addr(id)
	if err != nil {
		metrics.RecordDeliveryFailure()
		return DeliveryStatus{Err: err}
	}

	reply, err := b.tr.Exchange(ctx, addr, marker, b.ackTimeout)
	if err != nil {
		metrics.RecordDeliveryFailure()
		return DeliveryStatus{Err: err}
	}

	ack, ok := reply.(wire.MarkerAck)
	if !ok {
		metrics.RecordDeliveryFailure()
		return DeliveryStatus{Delivered: true, Err: fmt.Errorf("%w: got %T", ErrBadAck, reply)}
	}
	if !ack.Received {
		// An explicit refusal, not a timeout.
		metrics.RecordDeliveryFailure()
		return DeliveryStatus{Delivered: true, Err: ErrNack}
	}
	return DeliveryStatus{Delivered: true, Acked: true}
}

// AwaitAcks waits until every delivery resolved, the timeout fired, or ctx
// ended. Unresolved devices are reported with ErrAckTimeout.
func (b *Broadcaster) AwaitAcks(ctx context.Context, ev *Event, timeout time.Duration) map[string]DeliveryStatus {
	if timeout <= 0 {
		timeout = b.ackTimeout
	}
	timer := b.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ev.Done():
	case <-timer.Chan():
	case <-ctx.Done():
	}

	results := ev.Results()
	for _, id := range ev.Targets {
		if _, resolved := results[id]; !resolved {
			metrics.RecordAckTimeout()
			results[id] = DeliveryStatus{Err: ErrAckTimeout}
		}
	}
	return results
}

// History returns the retained events, oldest first.
func (b *Broadcaster) History() []*Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]*Event, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Broadcaster) appendHistory(ev *Event) {
	b.histMu.Lock()
	if len(b.history) == b.historySize {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, ev)
	b.histMu.Unlock()
}

// SendScheduledStart commands one device to start at the given local clock
// reading. Returns whether the device accepted.
func (b *Broadcaster) SendScheduledStart(ctx context.Context, id, sessionID string, localStart int64) (bool, error) {
	addr, err := b.addr(id)
	if err != nil {
		return false, err
	}
	reply, err := b.tr.Exchange(ctx, addr, wire.ScheduledStart{
		SessionID:      sessionID,
		LocalStartTime: localStart,
	}, b.ackTimeout)
	if err != nil {
		return false, err
	}
	ack, ok := reply.(wire.StartAck)
	if !ok || ack.SessionID != sessionID {
		return false, fmt.Errorf("%w: got %T", ErrBadAck, reply)
	}
	return ack.Accepted, nil
}

// SendCancelStart revokes an acknowledged scheduled start on one device.
func (b *Broadcaster) SendCancelStart(ctx context.Context, id, sessionID string) error {
	addr, err := b.addr(id)
	if err != nil {
		return err
	}
	_, err = b.tr.Exchange(ctx, addr, wire.CancelStart{SessionID: sessionID}, b.ackTimeout)
	return err
}

// RequestStartReport polls one device for its actual local start time.
func (b *Broadcaster) RequestStartReport(ctx context.Context, id, sessionID string) (wire.StartReport, error) {
	addr, err := b.addr(id)
	if err != nil {
		return wire.StartReport{}, err
	}
	reply, err := b.tr.Exchange(ctx, addr, wire.ReportRequest{SessionID: sessionID}, b.ackTimeout)
	if err != nil {
		return wire.StartReport{}, err
	}
	report, ok := reply.(wire.StartReport)
	if !ok || report.SessionID != sessionID {
		return wire.StartReport{}, fmt.Errorf("%w: got %T", ErrBadAck, reply)
	}
	return report, nil
}

func (b *Broadcaster) addr(id string) (string, error) {
	cell, ok := b.reg.Cell(id)
	if !ok {
		return "", registry.ErrUnknownDevice
	}
	return cell.Snapshot().Addr, nil
}
