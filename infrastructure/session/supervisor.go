package session

import (
	"sync"
	"sync/atomic"

	"pqproxy/application"
)

// Role distinguishes the two proxy ends of a session.
type Role string

const (
	RoleGCS   Role = "gcs"
	RoleDrone Role = "drone"
)

// Supervisor owns the per-epoch datagram pairs and the session's observable
// state. The active epoch pointer is the only mutable state shared between
// the rekey path and the dataplane workers; it is swapped atomically, so
// dataplane reads are wait-free.
type Supervisor struct {
	role     Role
	logger   application.Logger
	counters Counters

	active   atomic.Pointer[Epoch]
	previous atomic.Pointer[Epoch]

	mu          sync.Mutex
	state       State
	newSuite    string
	errorReason string
	onChange    func(Status)
}

func NewSupervisor(role Role, logger application.Logger) *Supervisor {
	return &Supervisor{
		role:   role,
		logger: logger,
		state:  StateInitializing,
	}
}

// OnStatusChange registers a hook invoked with a fresh snapshot after every
// state transition or epoch install. Used to persist the status files.
func (s *Supervisor) OnStatusChange(hook func(Status)) {
	s.mu.Lock()
	s.onChange = hook
	s.mu.Unlock()
}

// Role returns the session role.
func (s *Supervisor) Role() Role {
	return s.role
}

// Counters exposes the shared counter block.
func (s *Supervisor) Counters() *Counters {
	return &s.counters
}

// Active returns the current epoch tuple, or nil before the first install.
func (s *Supervisor) Active() *Epoch {
	return s.active.Load()
}

// Previous returns the superseded epoch tuple while it is retained for
// draining in-flight datagrams, or nil.
func (s *Supervisor) Previous() *Epoch {
	return s.previous.Load()
}

// ActiveEpoch returns the current epoch number; ok is false before the
// first install.
func (s *Supervisor) ActiveEpoch() (uint8, bool) {
	e := s.active.Load()
	if e == nil {
		return 0, false
	}
	return e.Number, true
}

// Install atomically swaps the active epoch. The superseded epoch is kept in
// the previous slot when keepPrevious is set (grace draining); otherwise its
// replay state is zeroized immediately.
func (s *Supervisor) Install(e *Epoch, keepPrevious bool) {
	old := s.active.Swap(e)
	if old != nil {
		if keepPrevious {
			s.previous.Store(old)
		} else {
			old.Receiver.Zeroize()
			s.previous.Store(nil)
		}
	}
	s.notify()
}

// DropPrevious discards the retained previous epoch, if any.
func (s *Supervisor) DropPrevious() {
	if old := s.previous.Swap(nil); old != nil {
		old.Receiver.Zeroize()
	}
}

// SetState records an observable transition and notifies the status hook.
func (s *Supervisor) SetState(state State) {
	s.mu.Lock()
	s.state = state
	if state != StateRekeyFail {
		s.errorReason = ""
	}
	if state != StateRekeying && state != StateRekeyFail {
		s.newSuite = ""
	}
	s.mu.Unlock()
	s.notify()
}

// SetRekeyTarget records the suite under negotiation for status reporting.
func (s *Supervisor) SetRekeyTarget(suiteID string) {
	s.mu.Lock()
	s.newSuite = suiteID
	s.mu.Unlock()
}

// SetError records a human-readable failure reason surfaced in status.
func (s *Supervisor) SetError(reason string) {
	s.mu.Lock()
	s.errorReason = reason
	s.mu.Unlock()
}

// Status assembles a consistent snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	state := s.state
	newSuite := s.newSuite
	reason := s.errorReason
	s.mu.Unlock()

	status := Status{
		State:       state,
		Role:        string(s.role),
		NewSuite:    newSuite,
		Counters:    s.counters.Snapshot(),
		ErrorReason: reason,
	}
	if e := s.active.Load(); e != nil {
		status.Suite = e.Suite.ID
		status.Epoch = e.Number
	}
	return status
}

func (s *Supervisor) notify() {
	s.mu.Lock()
	hook := s.onChange
	s.mu.Unlock()
	if hook != nil {
		hook(s.Status())
	}
}
