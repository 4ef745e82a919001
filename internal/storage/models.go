package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

// SaveState is one module configuration recorded in response to a SAVE
// command.
type SaveState struct {
	ID                        uuid.UUID    `json:"id" yaml:"id"`
	SessionID                 string       `json:"session_id" yaml:"session_id"`
	ModuleID                  amm.ModuleID `json:"module_id" yaml:"module_id"`
	Name                      string       `json:"name" yaml:"name"`
	EducationalEncounter      string       `json:"educational_encounter,omitempty" yaml:"educational_encounter,omitempty"`
	Timestamp                 int64        `json:"timestamp" yaml:"timestamp"`
	CapabilitiesConfiguration string       `json:"capabilities_configuration" yaml:"capabilities_configuration"`
	RecordedAt                time.Time    `json:"recorded_at" yaml:"recorded_at"`
}

// NewSaveState builds a record from a received configuration.
func NewSaveState(sessionID string, cfg amm.ModuleConfiguration) *SaveState {
	return &SaveState{
		ID:                        uuid.New(),
		SessionID:                 sessionID,
		ModuleID:                  cfg.ModuleID,
		Name:                      cfg.Name,
		EducationalEncounter:      cfg.EducationalEncounter,
		Timestamp:                 cfg.Timestamp,
		CapabilitiesConfiguration: cfg.CapabilitiesConfiguration,
		RecordedAt:                time.Now().UTC(),
	}
}

// Configuration turns the record back into the payload it was taken from.
func (s *SaveState) Configuration() amm.ModuleConfiguration {
	return amm.ModuleConfiguration{
		ModuleID:                  s.ModuleID,
		Name:                      s.Name,
		EducationalEncounter:      s.EducationalEncounter,
		Timestamp:                 s.Timestamp,
		CapabilitiesConfiguration: s.CapabilitiesConfiguration,
	}
}

func (s *SaveState) fillDefaults() {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now().UTC()
	}
}

// ListFilter narrows ListSaveStates. Zero values match everything.
type ListFilter struct {
	ModuleID  amm.ModuleID
	SessionID string
	Limit     int
}
