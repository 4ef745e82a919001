package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSimModule/internal/module"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"

	// Module state messages
	MessageTypeModuleState MessageType = "module_state"
	MessageTypeTick        MessageType = "tick"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ModuleStateData carries a state change of the module.
type ModuleStateData struct {
	Reason   string          `json:"reason"`
	Snapshot module.Snapshot `json:"snapshot"`
}

// TickData is sent instead of a full snapshot for tick updates.
type TickData struct {
	TickCount int `json:"tick_count"`
}

type AuthData struct {
	Permissions []string `json:"permissions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewStateChangeMessage turns a runtime state change into a message. Ticks
// only carry the counter.
func NewStateChangeMessage(change module.StateChange) Message {
	if change.Reason == "tick" {
		return NewMessage(MessageTypeTick, TickData{TickCount: change.Snapshot.State.TickCount})
	}
	return NewMessage(MessageTypeModuleState, ModuleStateData{
		Reason:   change.Reason,
		Snapshot: change.Snapshot,
	})
}

func NewSnapshotMessage(snap module.Snapshot) Message {
	return NewMessage(MessageTypeModuleState, ModuleStateData{
		Reason:   "snapshot",
		Snapshot: snap,
	})
}
