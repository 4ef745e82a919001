package amm

import "time"

// ModuleID identifies one module on the simulation network.
type ModuleID string

func (id ModuleID) String() string {
	return string(id)
}

// StatusValue is the health of a single capability.
type StatusValue string

const (
	StatusOperational StatusValue = "OPERATIONAL"
	StatusInoperative StatusValue = "INOPERATIVE"
	StatusExitCode    StatusValue = "EXIT_CODE"
	StatusError       StatusValue = "ERROR"
)

// Valid reports whether v is one of the known status values.
func (v StatusValue) Valid() bool {
	switch v {
	case StatusOperational, StatusInoperative, StatusExitCode, StatusError:
		return true
	}
	return false
}

// ControlType is the command carried by SimulationControl.
type ControlType string

const (
	ControlRun   ControlType = "RUN"
	ControlHalt  ControlType = "HALT"
	ControlReset ControlType = "RESET"
	ControlSave  ControlType = "SAVE"
)

// OperationalDescription announces what a module is. Static for the module's
// lifetime.
type OperationalDescription struct {
	Name               string   `json:"name" yaml:"name"`
	Description        string   `json:"description" yaml:"description"`
	Manufacturer       string   `json:"manufacturer" yaml:"manufacturer"`
	SerialNumber       string   `json:"serial_number" yaml:"serial_number"`
	ModuleID           ModuleID `json:"module_id" yaml:"module_id"`
	ModuleVersion      string   `json:"module_version" yaml:"module_version"`
	CapabilitiesSchema string   `json:"capabilities_schema" yaml:"capabilities_schema"`
}

func (OperationalDescription) TopicKind() TopicKind { return TopicOperationalDescription }

// ModuleConfiguration is how a module is currently configured.
type ModuleConfiguration struct {
	ModuleID                  ModuleID `json:"module_id" yaml:"module_id"`
	Name                      string   `json:"name" yaml:"name"`
	EducationalEncounter      string   `json:"educational_encounter,omitempty" yaml:"educational_encounter,omitempty"`
	Timestamp                 int64    `json:"timestamp" yaml:"timestamp"`
	CapabilitiesConfiguration string   `json:"capabilities_configuration" yaml:"capabilities_configuration"`
}

func (ModuleConfiguration) TopicKind() TopicKind { return TopicModuleConfiguration }

// Status reports the state of one capability of a module.
type Status struct {
	ModuleID   ModuleID    `json:"module_id" yaml:"module_id"`
	ModuleName string      `json:"module_name" yaml:"module_name"`
	Capability string      `json:"capability" yaml:"capability"`
	Value      StatusValue `json:"value" yaml:"value"`
	Message    string      `json:"message,omitempty" yaml:"message,omitempty"`
	Timestamp  int64       `json:"timestamp" yaml:"timestamp"`
}

func (Status) TopicKind() TopicKind { return TopicStatus }

// SimulationControl is published by the point of control to drive every
// module on the network.
type SimulationControl struct {
	Timestamp int64       `json:"timestamp" yaml:"timestamp"`
	Type      ControlType `json:"type" yaml:"type"`
}

func (SimulationControl) TopicKind() TopicKind { return TopicSimulationControl }

// Tick advances the simulation by one frame.
type Tick struct {
	Frame       uint64  `json:"frame" yaml:"frame"`
	TimeSeconds float64 `json:"time" yaml:"time"`
	Period      float64 `json:"period" yaml:"period"`
}

func (Tick) TopicKind() TopicKind { return TopicTick }

type Assessment struct {
	ID      string `json:"id" yaml:"id"`
	EventID string `json:"event_id" yaml:"event_id"`
	Value   string `json:"value" yaml:"value"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

func (Assessment) TopicKind() TopicKind { return TopicAssessment }

// NowMillis returns the current time as milliseconds since the Unix epoch,
// the timestamp unit used on every topic.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
