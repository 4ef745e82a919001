package module

import (
	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/capabilities"
)

// Settings are the startup facts of a module. They come from configuration
// and never change afterwards.
type Settings struct {
	Name                    string
	Description             string
	Manufacturer            string
	SerialNumber            string
	Version                 string
	StatusModuleName        string
	Capabilities            []string
	CapabilitySchema        string
	CapabilityConfiguration string
	TickSubscription        bool
}

// Identity is created once per process and published at most once.
type Identity struct {
	ID          amm.ModuleID               `json:"module_id"`
	Description amm.OperationalDescription `json:"description"`
}

// IdentifierGenerator creates module identifiers. *gateway.Manager satisfies it.
type IdentifierGenerator interface {
	GenerateIdentifier() amm.ModuleID
}

// NewIdentity builds the static description of module id from settings
// and the capability schema blob.
func NewIdentity(id amm.ModuleID, s Settings, blobs capabilities.Blobs) Identity {
	return Identity{
		ID: id,
		Description: amm.OperationalDescription{
			Name:               s.Name,
			Description:        s.Description,
			Manufacturer:       s.Manufacturer,
			SerialNumber:       s.SerialNumber,
			ModuleID:           id,
			ModuleVersion:      s.Version,
			CapabilitiesSchema: blobs.Schema,
		},
	}
}

func defaultState(id amm.ModuleID, s Settings, blobs capabilities.Blobs, now int64) State {
	statusName := s.StatusModuleName
	if statusName == "" {
		statusName = s.Name
	}

	state := State{
		Configuration: amm.ModuleConfiguration{
			ModuleID:                  id,
			Name:                      s.Name,
			Timestamp:                 now,
			CapabilitiesConfiguration: blobs.Configuration,
		},
		Statuses: make([]amm.Status, 0, len(s.Capabilities)),
	}

	for _, capability := range s.Capabilities {
		state.Statuses = append(state.Statuses, amm.Status{
			ModuleID:   id,
			ModuleName: statusName,
			Capability: capability,
			Value:      amm.StatusOperational,
			Message:    "Ready",
			Timestamp:  now,
		})
	}

	return state
}
