package discovery

import (
	"errors"
	"fmt"
	"sync"
)

// State is the presence service run state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

// validNext is the lifecycle transition table. A restart requested
// while one is already underway loses here, not via ad-hoc flags.
var validNext = map[State][]State{
	StateIdle:       {StateStarting},
	StateStarting:   {StateRunning, StateRestarting, StateStopping},
	StateRunning:    {StateRestarting, StateStopping},
	StateRestarting: {StateStarting, StateStopping},
	StateStopping:   {StateIdle},
}

type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) to(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, allowed := range validNext[l.state] {
		if next == allowed {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
}
