// Package lifecycle tracks process-level state the health endpoints report.
package lifecycle

import "sync/atomic"

// State is shared between the shutdown path and the readiness handler.
type State struct {
	draining atomic.Bool
}

func NewState() *State {
	return &State{}
}

// SetDraining flips the process into draining mode. Readiness turns negative
// so load balancers stop routing new interviews here.
func (s *State) SetDraining() {
	if s == nil {
		return
	}
	s.draining.Store(true)
}

func (s *State) Draining() bool {
	if s == nil {
		return false
	}
	return s.draining.Load()
}
