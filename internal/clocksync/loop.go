package clocksync

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

// startLoop launches the device's background resync task. The task re-arms
// itself with the interval implied by its own latest quality and exits when
// the device disconnects or the context ends.
func (s *Synchronizer) startLoop(ctx context.Context, id string) {
	s.mu.Lock()
	if _, exists := s.loops[id]; exists {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loops[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runLoop(loopCtx, id)
}

// stopLoop cancels the device's resync task if one is running.
func (s *Synchronizer) stopLoop(id string) {
	s.mu.Lock()
	if cancel, ok := s.loops[id]; ok {
		cancel()
		delete(s.loops, id)
	}
	s.mu.Unlock()
}

func (s *Synchronizer) runLoop(ctx context.Context, id string) {
	defer s.wg.Done()
	defer s.stopLoop(id)

	for {
		s.SyncDevice(ctx, id, s.measurementsPerSync)

		snap, err := s.snapshot(id)
		if err != nil {
			return // deregistered
		}
		if snap.State == device.StateDisconnected {
			s.logger.Info(ctx, "resync loop exiting, device disconnected",
				logger.String("device", id),
			)
			return
		}

		timer := s.clock.NewTimer(s.ResyncInterval(snap.Quality))
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			return
		}
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel so a fired
// timer never leaks a send.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
