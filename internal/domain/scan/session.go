package scan

import (
	"fmt"
	"sync"
	"time"
)

// SessionState represents the lifecycle of the single in-flight scan a scope
// may have.
type SessionState string

const (
	// SessionStateNotStarted indicates no scan is in flight for the scope.
	SessionStateNotStarted SessionState = "NOT_STARTED"

	// SessionStateRunning indicates a scan is in flight.
	SessionStateRunning SessionState = "RUNNING"

	// SessionStateCancelling indicates the user requested a stop and the
	// pipeline is unwinding cooperatively.
	SessionStateCancelling SessionState = "CANCELLING"
)

func (s SessionState) String() string { return string(s) }

// ErrScanInProgress is returned when a scan is started in a scope that is
// already Running or Cancelling.
var ErrScanInProgress = fmt.Errorf("a scan is already in progress for this scope")

// Session tracks the per-scope singleton scan state. Exactly one Session
// exists per scope; every pipeline stage receives it and checks the
// cancellation predicate at stage boundaries.
//
// For the FileAuto scope the session additionally records a monotonic
// start-time watermark so a newer auto-trigger supersedes an older in-flight
// scan: the stale scan's results are dropped on arrival rather than merged.
type Session struct {
	scope Scope

	mu          sync.Mutex
	state       SessionState
	active      int
	latestStart time.Time

	now func() time.Time // injectable for tests
}

// NewSession creates a Session for the given scope in the NotStarted state.
func NewSession(scope Scope) *Session {
	return &Session{
		scope: scope,
		state: SessionStateNotStarted,
		now:   time.Now,
	}
}

// Scope returns the scope this session serializes.
func (s *Session) Scope() Scope { return s.scope }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start transitions the session to Running and returns the start time used
// as the supersession watermark.
//
// Project and FileOnDemand scopes serialize strictly: starting while Running
// or Cancelling fails with ErrScanInProgress. FileAuto always starts and
// bumps the watermark, letting the newest trigger win.
func (s *Session) Start() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionStateNotStarted && s.scope != ScopeFileAuto {
		return time.Time{}, ErrScanInProgress
	}

	start := s.now()
	s.state = SessionStateRunning
	s.active++
	if start.After(s.latestStart) {
		s.latestStart = start
	}
	return start, nil
}

// RequestStop moves a Running session to Cancelling. It is a no-op for a
// session that is not Running; cancellation of an idle scope has nothing to
// unwind.
func (s *Session) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStateRunning {
		s.state = SessionStateCancelling
	}
}

// Finish marks one started scan as done. The session returns to NotStarted
// only when no scan remains in flight; a superseded FileAuto scan finishing
// must not reset the state under the newer one still running.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
	if s.active == 0 {
		s.state = SessionStateNotStarted
	}
}

// Stopped reports whether cancellation has been requested. Pipeline stages
// poll this at their boundaries; it never preempts an in-flight call.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SessionStateCancelling
}

// LatestStartTime returns the supersession watermark.
func (s *Session) LatestStartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestStart
}

// Superseded reports whether a scan begun at start has been overtaken by a
// newer one. Last-write-wins is decided by start time, not completion time.
func (s *Session) Superseded(start time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestStart.After(start)
}
