package system

import (
	"errors"
	"fmt"
)

// SystemState is the state of the module process as a whole: the runtime
// plus the servers and scheduler around it. The runtime keeps its own,
// finer grained phase.
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

var ErrInvalidTransition = errors.New("invalid process state transition")

var stateNames = map[SystemState]string{
	StateInitializing: "INITIALIZING",
	StateRunning:      "RUNNING",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

// Error may be left for Stopped directly when startup failed before any
// service was up.
var stateTransitions = map[SystemState]map[SystemState]bool{
	StateInitializing: {StateRunning: true, StateStopping: true, StateError: true},
	StateRunning:      {StateStopping: true, StateError: true},
	StateStopping:     {StateStopped: true, StateError: true},
	StateStopped:      {},
	StateError:        {StateStopping: true, StateStopped: true},
}

func (s SystemState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s SystemState) Terminal() bool {
	next, ok := stateTransitions[s]
	return ok && len(next) == 0
}

func ValidateTransition(from, to SystemState) error {
	next, ok := stateTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %s", ErrInvalidTransition, from)
	}
	if !next[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
