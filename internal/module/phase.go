package module

import "fmt"

// Phase is the lifecycle position of a Runtime. Running and halted are values
// of the run flag inside PhaseReady, not phases of their own.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseAnnouncing
	PhaseReady
	PhaseShuttingDown
	PhaseTerminated
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "UNINITIALIZED"
	case PhaseAnnouncing:
		return "ANNOUNCING"
	case PhaseReady:
		return "READY"
	case PhaseShuttingDown:
		return "SHUTTING_DOWN"
	case PhaseTerminated:
		return "TERMINATED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func ValidateTransition(from, to Phase) error {
	validTransitions := map[Phase][]Phase{
		PhaseUninitialized: {PhaseAnnouncing, PhaseTerminated},
		PhaseAnnouncing:    {PhaseReady, PhaseFailed},
		PhaseReady:         {PhaseShuttingDown},
		PhaseShuttingDown:  {PhaseTerminated},
		PhaseFailed:        {PhaseTerminated},
		PhaseTerminated:    {},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current phase: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid phase transition: %s -> %s", from, to)
}
