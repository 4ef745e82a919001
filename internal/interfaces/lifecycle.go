package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/config"
	"github.com/KevinKickass/OpenSimModule/internal/module"
	"github.com/KevinKickass/OpenSimModule/internal/storage"
)

// SystemStatus represents the current process state
type SystemStatus struct {
	State            string       `json:"state"`
	ModuleID         amm.ModuleID `json:"module_id,omitempty"`
	Phase            string       `json:"phase"`
	Running          bool         `json:"running"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	ConnectedClients int          `json:"connected_clients"`
}

// ModuleRuntime is the part of *module.Runtime exposed over the API.
type ModuleRuntime interface {
	Identity() module.Identity
	Snapshot() module.Snapshot
	Phase() module.Phase
	SetCapabilityStatus(ctx context.Context, capability string, value amm.StatusValue, message string) error
	RepublishStatuses(ctx context.Context) error
}

var _ ModuleRuntime = (*module.Runtime)(nil)

type LifecycleManager interface {
	Config() *config.Config
	Module() ModuleRuntime
	// SaveStates returns nil when no save-state store is configured.
	SaveStates() storage.Store
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
