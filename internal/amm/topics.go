package amm

import "fmt"

// TopicKind names a category of data exchanged over the gateway.
type TopicKind string

const (
	TopicOperationalDescription TopicKind = "operational_description"
	TopicModuleConfiguration    TopicKind = "module_configuration"
	TopicSimulationControl      TopicKind = "simulation_control"
	TopicStatus                 TopicKind = "status"
	TopicTick                   TopicKind = "tick"
	TopicAssessment             TopicKind = "assessment"
)

// AllTopics lists every topic kind in announcement order.
var AllTopics = []TopicKind{
	TopicOperationalDescription,
	TopicModuleConfiguration,
	TopicSimulationControl,
	TopicStatus,
	TopicTick,
	TopicAssessment,
}

// Payload is implemented by every value that can be written to a topic.
type Payload interface {
	TopicKind() TopicKind
}

// ParseTopicKind accepts the canonical name and a few short aliases used on
// the command line.
func ParseTopicKind(s string) (TopicKind, error) {
	switch s {
	case "operational_description", "description", "od":
		return TopicOperationalDescription, nil
	case "module_configuration", "configuration", "config", "mc":
		return TopicModuleConfiguration, nil
	case "simulation_control", "control", "sc":
		return TopicSimulationControl, nil
	case "status":
		return TopicStatus, nil
	case "tick":
		return TopicTick, nil
	case "assessment":
		return TopicAssessment, nil
	default:
		return "", fmt.Errorf("unknown topic: %s", s)
	}
}

// EventType is the CloudEvents type attribute used for the topic.
func (k TopicKind) EventType() string {
	return "amm." + string(k)
}
