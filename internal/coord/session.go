package coord

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SessionState is the coordinated-start session state machine.
type SessionState int

const (
	StateForming SessionState = iota
	StateSyncingDevices
	StateElectingMaster
	StateScheduling
	StateAwaitingAcks
	StateArmed
	StateStarted
	StateSucceeded
	StateDegraded
	StateFailed
	StateCancelled
)

// String returns the display name of the session state.
func (s SessionState) String() string {
	switch s {
	case StateForming:
		return "FORMING"
	case StateSyncingDevices:
		return "SYNCING_DEVICES"
	case StateElectingMaster:
		return "ELECTING_MASTER"
	case StateScheduling:
		return "SCHEDULING"
	case StateAwaitingAcks:
		return "AWAITING_ACKS"
	case StateArmed:
		return "ARMED"
	case StateStarted:
		return "STARTED"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateDegraded:
		return "DEGRADED"
	case StateFailed:
		return "FAILED"
	default:
		return "CANCELLED"
	}
}

// Terminal reports whether no further transitions can happen.
func (s SessionState) Terminal() bool {
	return s >= StateSucceeded
}

// Session is one coordinated-start attempt across a device group, from
// scheduling to reported outcome.
type Session struct {
	ID    string
	Group string

	mu             sync.Mutex
	state          SessionState
	master         string
	referenceStart time.Time
	leadTime       time.Duration
	offsets        map[string]time.Duration // offset snapshot at schedule time
	scheduled      map[string]int64         // device -> local start, ns
	acked          map[string]bool
	excluded       map[string]string // device -> reason
	reports        map[string]int64  // device -> actual local start, ns
	timingError    time.Duration

	cancelArm context.CancelFunc
	done      chan struct{}
}

// Result is the user-visible outcome of a session. Every coordination
// result enumerates participating and excluded devices explicitly.
type Result struct {
	SessionID      string
	Group          string
	Master         string
	State          SessionState
	ReferenceStart time.Time
	LeadTime       time.Duration
	TimingError    time.Duration
	Started        []string
	Excluded       map[string]string
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns a snapshot of the session outcome so far.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := make([]string, 0, len(s.reports))
	for id := range s.reports {
		started = append(started, id)
	}
	sort.Strings(started)

	excluded := make(map[string]string, len(s.excluded))
	for k, v := range s.excluded {
		excluded[k] = v
	}

	return Result{
		SessionID:      s.ID,
		Group:          s.Group,
		Master:         s.master,
		State:          s.state,
		ReferenceStart: s.referenceStart,
		LeadTime:       s.leadTime,
		TimingError:    s.timingError,
		Started:        started,
		Excluded:       excluded,
	}
}

// transition moves the session forward unless it is already terminal.
// Returns false if the transition was refused.
func (s *Session) transition(to SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = to
	if to.Terminal() {
		close(s.done)
	}
	return true
}

// exclude records a device as out of this session with a reason.
func (s *Session) exclude(id, reason string) {
	s.mu.Lock()
	s.excluded[id] = reason
	delete(s.acked, id)
	s.mu.Unlock()
}

// recordReport stores a device's actual local start. Reports from devices
// that never acked are ignored.
func (s *Session) recordReport(id string, actualLocal int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acked[id] {
		return false
	}
	s.reports[id] = actualLocal
	return true
}

// ackedIDs returns the devices that accepted the scheduled start.
func (s *Session) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.acked))
	for id := range s.acked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
