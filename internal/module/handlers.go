package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"go.uber.org/zap"
)

// EventHandler reacts to the inbound topics a module subscribes to.
type EventHandler interface {
	OnControl(ctx context.Context, control amm.SimulationControl)
	OnConfiguration(ctx context.Context, config amm.ModuleConfiguration)
	OnTick(ctx context.Context, tick amm.Tick)
}

var _ EventHandler = (*Runtime)(nil)

// OnControl applies RUN, HALT, RESET and SAVE. Other control types are
// ignored.
func (r *Runtime) OnControl(ctx context.Context, control amm.SimulationControl) {
	if !r.enter(amm.TopicSimulationControl) {
		return
	}
	defer r.leave()

	r.logger.Info("Simulation control received", zap.String("type", string(control.Type)))

	switch control.Type {
	case amm.ControlRun:
		r.setRunning(true, "run")
	case amm.ControlHalt:
		r.setRunning(false, "halt")
	case amm.ControlReset:
		r.reset()
	case amm.ControlSave:
		r.save(ctx)
	default:
		r.logger.Warn("Unknown simulation control ignored", zap.String("type", string(control.Type)))
		r.metrics.ObserveIgnored(amm.TopicSimulationControl, "unknown_type")
		return
	}

	r.metrics.ObserveControl(control.Type)
}

func (r *Runtime) setRunning(running bool, reason string) {
	r.mu.Lock()
	r.running = running
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.metrics.SetRunning(running)
	r.notify(reason, snap)
}

func (r *Runtime) reset() {
	r.mu.Lock()
	r.running = false
	r.current = r.defaults.Clone()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.metrics.SetRunning(false)
	r.metrics.SetTickCount(snap.State.TickCount)
	r.notify("reset", snap)
	r.logger.Info("Module state reset to defaults")
}

// save writes the current configuration. The published copy gets a fresh
// timestamp; the live state is left untouched.
func (r *Runtime) save(ctx context.Context) {
	r.mu.Lock()
	configuration := r.current.Configuration
	r.mu.Unlock()

	configuration.Timestamp = r.now()
	if err := r.write(ctx, configuration); err != nil {
		return
	}
	r.logger.Info("Module configuration saved")
}

// OnConfiguration replaces the configuration when it is addressed to this
// module and halts the simulation.
func (r *Runtime) OnConfiguration(ctx context.Context, config amm.ModuleConfiguration) {
	if !r.enter(amm.TopicModuleConfiguration) {
		return
	}
	defer r.leave()

	if config.ModuleID != r.identity.ID {
		r.logger.Debug("Configuration for other module ignored",
			zap.String("target", config.ModuleID.String()))
		r.metrics.ObserveIgnored(amm.TopicModuleConfiguration, "other_module")
		return
	}

	r.mu.Lock()
	r.running = false
	r.current.Configuration = config
	r.current.EducationalEncounter = config.EducationalEncounter
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.metrics.SetRunning(false)
	r.notify("configuration", snap)
	r.logger.Info("Module configuration applied",
		zap.String("educational_encounter", config.EducationalEncounter))
}

// OnTick advances the tick counter while running.
func (r *Runtime) OnTick(ctx context.Context, tick amm.Tick) {
	if !r.enter(amm.TopicTick) {
		return
	}
	defer r.leave()

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.metrics.ObserveIgnored(amm.TopicTick, "halted")
		return
	}
	r.current.TickCount++
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.metrics.SetTickCount(snap.State.TickCount)
	r.notify("tick", snap)
}

// SetCapabilityStatus updates one capability status, refreshes its timestamp
// and publishes it.
func (r *Runtime) SetCapabilityStatus(ctx context.Context, capability string, value amm.StatusValue, message string) error {
	if !value.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatusValue, value)
	}
	if !r.enter(amm.TopicStatus) {
		return ErrNotAccepting
	}
	defer r.leave()

	r.mu.Lock()
	i, ok := r.current.status(capability)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}
	status := &r.current.Statuses[i]
	status.Value = value
	status.Message = message
	status.Timestamp = r.now()
	out := *status
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify("status", snap)
	return r.write(ctx, out)
}

// RepublishStatuses publishes every capability status with a fresh
// timestamp.
func (r *Runtime) RepublishStatuses(ctx context.Context) error {
	if !r.enter(amm.TopicStatus) {
		return ErrNotAccepting
	}
	defer r.leave()

	now := r.now()
	r.mu.Lock()
	for i := range r.current.Statuses {
		r.current.Statuses[i].Timestamp = now
	}
	statuses := append([]amm.Status(nil), r.current.Statuses...)
	r.mu.Unlock()

	var errs []error
	for _, status := range statuses {
		if err := r.write(ctx, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
