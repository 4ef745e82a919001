package module

import (
	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

// State is the mutable part of a module. The runtime keeps a live copy and a
// default copy taken once at startup.
type State struct {
	Configuration amm.ModuleConfiguration `json:"configuration"`
	// One entry per capability, in configuration order.
	Statuses []amm.Status `json:"statuses"`
	// Mirrors the configuration; the module never sets it on its own.
	EducationalEncounter string `json:"educational_encounter,omitempty"`
	TickCount            int    `json:"tick_count"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.Statuses != nil {
		out.Statuses = make([]amm.Status, len(s.Statuses))
		copy(out.Statuses, s.Statuses)
	}
	return out
}

func (s *State) status(capability string) (int, bool) {
	for i := range s.Statuses {
		if s.Statuses[i].Capability == capability {
			return i, true
		}
	}
	return -1, false
}

// Snapshot is a consistent read-only view of a runtime.
type Snapshot struct {
	ModuleID amm.ModuleID `json:"module_id"`
	Phase    Phase        `json:"phase"`
	Running  bool         `json:"running"`
	State    State        `json:"state"`
}

// StateChange is sent to state subscribers after every applied event.
type StateChange struct {
	Reason   string   `json:"reason"`
	Snapshot Snapshot `json:"snapshot"`
}
