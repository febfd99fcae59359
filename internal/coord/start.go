package coord

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronomesh/chronomesh/pkg/logger"
	"github.com/chronomesh/chronomesh/pkg/metrics"
)

// ScheduleCoordinatedStart runs the coordinated-start algorithm for a
// group: re-sync all members, elect a master, compute a common future
// reference instant, convert it to every device's local clock, and send
// scheduled-start commands. Devices that fail to ack are excluded and
// reported, not retried mid-session. The returned session arms itself and
// resolves asynchronously; callers wait on Done or poll Result.
//
// The effective lead time is raised to safetyFactor x the maximum observed
// RTT across the group plus the schedule margin, so every device receives
// its command safely before the start instant even when the requested lead
// time is zero.
func (c *Coordinator) ScheduleCoordinatedStart(ctx context.Context, groupName string, leadTime time.Duration) (*Session, error) {
	g := c.groupSnapshot(groupName)
	if g == nil {
		return nil, ErrUnknownGroup
	}

	s := c.newSession(groupName)

	s.transition(StateSyncingDevices)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range g.Members {
		id := id
		eg.Go(func() error {
			c.sync.SyncDevice(egCtx, id, 0)
			return nil
		})
	}
	_ = eg.Wait()

	s.transition(StateElectingMaster)
	master, err := c.electMaster(g.Members)
	if err != nil {
		c.fail(ctx, s)
		return s, err
	}
	s.mu.Lock()
	s.master = master
	s.mu.Unlock()

	s.transition(StateScheduling)
	participants, maxRTT := c.pickParticipants(s, g.Members)
	if len(participants) == 0 {
		c.fail(ctx, s)
		return s, ErrNoSyncQuorum
	}

	effectiveLead := leadTime
	if minLead := time.Duration(float64(maxRTT) * c.safetyFactor); effectiveLead < minLead {
		effectiveLead = minLead
	}
	effectiveLead += c.scheduleMargin

	masterNow, err := c.sync.CorrectedNow(master)
	if err != nil {
		c.fail(ctx, s)
		return s, err
	}

	s.mu.Lock()
	referenceStart := masterNow.Add(effectiveLead).Add(-s.offsets[master])
	s.referenceStart = referenceStart
	s.leadTime = effectiveLead
	for _, id := range participants {
		s.scheduled[id] = referenceStart.Add(s.offsets[id]).UnixNano()
	}
	s.mu.Unlock()

	s.transition(StateAwaitingAcks)
	c.sendStartCommands(ctx, s, participants)

	acked := s.ackedIDs()
	if len(acked) == 0 {
		c.fail(ctx, s)
		return s, ErrNoParticipants
	}

	s.transition(StateArmed)
	armCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancelArm = cancel
	s.mu.Unlock()
	go c.arm(armCtx, s)

	c.logger.Info(ctx, "coordinated start scheduled",
		logger.String("session", s.ID),
		logger.String("group", groupName),
		logger.String("master", master),
		logger.Duration("lead_time", effectiveLead),
		logger.Int("devices", len(acked)),
	)
	return s, nil
}

// pickParticipants snapshots offsets for the members that can take part
// and returns them along with the maximum RTT observed across the group.
// Ineligible members are excluded on the session with a reason.
func (c *Coordinator) pickParticipants(s *Session, members []string) ([]string, time.Duration) {
	participants := make([]string, 0, len(members))
	var maxRTT time.Duration

	for _, id := range members {
		cell, ok := c.reg.Cell(id)
		if !ok {
			s.exclude(id, "not registered")
			continue
		}
		snap := cell.Snapshot()
		if !snap.Synchronized() {
			s.exclude(id, "not synchronized")
			continue
		}
		if !c.bc.Healthy(id) {
			s.exclude(id, "unhealthy")
			continue
		}

		s.mu.Lock()
		s.offsets[id] = snap.Offset
		s.mu.Unlock()
		participants = append(participants, id)

		for _, m := range snap.History {
			if rtt := m.RTT(); rtt > maxRTT {
				maxRTT = rtt
			}
		}
	}
	return participants, maxRTT
}

// sendStartCommands delivers the per-device scheduled starts concurrently.
func (c *Coordinator) sendStartCommands(ctx context.Context, s *Session, participants []string) {
	var wg sync.WaitGroup
	for _, id := range participants {
		s.mu.Lock()
		localStart := s.scheduled[id]
		s.mu.Unlock()

		wg.Add(1)
		go func(id string, localStart int64) {
			defer wg.Done()
			accepted, err := c.bc.SendScheduledStart(ctx, id, s.ID, localStart)
			switch {
			case err != nil:
				metrics.RecordAckTimeout()
				s.exclude(id, "no ack: "+err.Error())
			case !accepted:
				s.exclude(id, "rejected")
			default:
				s.mu.Lock()
				s.acked[id] = true
				s.mu.Unlock()
			}
		}(id, localStart)
	}
	wg.Wait()
}

// arm waits for the reference start instant, marks the session started,
// and collects the post-hoc start reports.
func (c *Coordinator) arm(ctx context.Context, s *Session) {
	s.mu.Lock()
	delay := s.referenceStart.Sub(c.clock.Now())
	s.mu.Unlock()

	if !c.wait(ctx, delay) {
		return // cancelled
	}
	if !s.transition(StateStarted) {
		return
	}

	if !c.wait(ctx, c.reportGrace) {
		return
	}
	c.collectReports(ctx, s)
	c.finalize(ctx, s)
}

// collectReports polls every acked device that has not pushed its report.
func (c *Coordinator) collectReports(ctx context.Context, s *Session) {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range s.ackedIDs() {
		id := id
		s.mu.Lock()
		_, reported := s.reports[id]
		s.mu.Unlock()
		if reported {
			continue
		}

		eg.Go(func() error {
			report, err := c.bc.RequestStartReport(egCtx, id, s.ID)
			if err != nil {
				s.exclude(id, "no start report")
				return nil
			}
			s.recordReport(id, report.ActualLocalStart)
			return nil
		})
	}
	_ = eg.Wait()
}

// finalize converts reports to the reference timeline and classifies the
// session by its timing error.
func (c *Coordinator) finalize(ctx context.Context, s *Session) {
	s.mu.Lock()
	if len(s.reports) == 0 {
		s.mu.Unlock()
		c.fail(ctx, s)
		return
	}

	first := true
	var lo, hi time.Duration
	for id, actualLocal := range s.reports {
		actualRef := time.Duration(actualLocal) - s.offsets[id]
		if first {
			lo, hi = actualRef, actualRef
			first = false
			continue
		}
		if actualRef < lo {
			lo = actualRef
		}
		if actualRef > hi {
			hi = actualRef
		}
	}
	s.timingError = hi - lo
	timingError := s.timingError
	s.mu.Unlock()

	outcome := StateSucceeded
	if timingError > c.timingThreshold {
		outcome = StateDegraded
	}
	s.transition(outcome)

	metrics.RecordSessionOutcome(outcome.String())
	metrics.RecordSessionTimingError(timingError.Seconds())
	c.logger.Info(ctx, "session finished",
		logger.String("session", s.ID),
		logger.String("outcome", outcome.String()),
		logger.Duration("timing_error", timingError),
	)
}

// CancelSession aborts a session before it starts and propagates a stop
// command to every device that already acked.
func (c *Coordinator) CancelSession(ctx context.Context, sessionID string) error {
	s, ok := c.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionTerminal
	}
	if s.state >= StateStarted {
		s.mu.Unlock()
		return ErrCancelTooLate
	}
	if s.cancelArm != nil {
		s.cancelArm()
	}
	s.state = StateCancelled
	close(s.done)
	acked := make([]string, 0, len(s.acked))
	for id := range s.acked {
		acked = append(acked, id)
	}
	s.mu.Unlock()

	for _, id := range acked {
		if err := c.bc.SendCancelStart(ctx, id, s.ID); err != nil {
			c.logger.Warn(ctx, "cancel propagation failed",
				logger.String("session", s.ID),
				logger.String("device", id),
				logger.Error(err),
			)
		}
	}

	metrics.RecordSessionOutcome(StateCancelled.String())
	c.logger.Info(ctx, "session cancelled", logger.String("session", s.ID))
	return nil
}

// fail marks the session FAILED.
func (c *Coordinator) fail(ctx context.Context, s *Session) {
	if s.transition(StateFailed) {
		metrics.RecordSessionOutcome(StateFailed.String())
		c.logger.Warn(ctx, "session failed", logger.String("session", s.ID))
	}
}

// wait sleeps for d on the injected clock; false when ctx ended first.
func (c *Coordinator) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := c.clock.NewTimer(d)
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		if !timer.Stop() {
			select {
			case <-timer.Chan():
			default:
			}
		}
		return false
	}
}
