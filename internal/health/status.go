package health

import (
	"sync"
	"sync/atomic"

	"aurora-fleet/internal/model"
)

type State string

const (
	StateStarting  State = "starting"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateUnknown   State = "unknown"
)

// Status is the process-wide health flag. Writes are last-write-wins.
type Status struct {
	state   atomic.Value
	version string

	mu        sync.Mutex
	listeners []func(State)
}

func NewStatus(version string) *Status {
	s := &Status{version: version}
	s.state.Store(StateStarting)
	return s
}

// Set stores st and notifies listeners. Stores and notifications are
// serialized, so listeners observe transitions in the order they were stored.
func (s *Status) Set(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, _ := s.state.Swap(st).(State)
	if prev == st {
		return
	}
	for _, fn := range s.listeners {
		fn(st)
	}
}

// SetFromWorkers marks the process healthy when at least one worker is configured.
func (s *Status) SetFromWorkers(n int) {
	if n > 0 {
		s.Set(StateHealthy)
		return
	}
	s.Set(StateUnhealthy)
}

func (s *Status) State() State {
	if s == nil {
		return StateUnknown
	}
	st, ok := s.state.Load().(State)
	if !ok || st == "" {
		return StateUnknown
	}
	return st
}

func (s *Status) Version() string {
	if s == nil || s.version == "" {
		return string(StateUnknown)
	}
	return s.version
}

// OnChange registers fn to run after every state transition, starting with
// the current state. fn runs under the status lock: it must not block and
// must not call Set.
func (s *Status) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	fn(s.State())
}

func (s *Status) Snapshot() model.HealthReport {
	return model.HealthReport{
		Status:  string(s.State()),
		Version: s.Version(),
	}
}
