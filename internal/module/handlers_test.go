package module

import (
	"context"
	"errors"
	"testing"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFlagFollowsLastRunHaltReset(t *testing.T) {
	tests := []struct {
		name     string
		controls []amm.ControlType
		want     bool
	}{
		{"none", nil, false},
		{"run", []amm.ControlType{amm.ControlRun}, true},
		{"run halt", []amm.ControlType{amm.ControlRun, amm.ControlHalt}, false},
		{"halt run", []amm.ControlType{amm.ControlHalt, amm.ControlRun}, true},
		{"run reset", []amm.ControlType{amm.ControlRun, amm.ControlReset}, false},
		{"reset run", []amm.ControlType{amm.ControlReset, amm.ControlRun}, true},
		{"run save", []amm.ControlType{amm.ControlRun, amm.ControlSave}, true},
		{"run unknown", []amm.ControlType{amm.ControlRun, "PAUSE"}, true},
		{"run run halt halt", []amm.ControlType{amm.ControlRun, amm.ControlRun, amm.ControlHalt, amm.ControlHalt}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := startedRuntime(t)
			for _, c := range tt.controls {
				r.OnControl(context.Background(), control(c))
			}
			assert.Equal(t, tt.want, r.Running())
		})
	}
}

func TestResetRestoresDefaultState(t *testing.T) {
	r, _ := startedRuntime(t)
	ctx := context.Background()
	defaults := r.DefaultState()

	r.OnConfiguration(ctx, amm.ModuleConfiguration{
		ModuleID:                  testModuleID,
		Name:                      "Reconfigured",
		EducationalEncounter:      "encounter-7",
		Timestamp:                 99,
		CapabilitiesConfiguration: "<other/>",
	})
	r.OnControl(ctx, control(amm.ControlRun))
	r.OnTick(ctx, amm.Tick{Frame: 1})
	require.NoError(t, r.SetCapabilityStatus(ctx, "Foo", amm.StatusError, "broken"))

	require.NotEqual(t, defaults, r.Snapshot().State)

	r.OnControl(ctx, control(amm.ControlReset))

	snap := r.Snapshot()
	assert.Equal(t, defaults, snap.State)
	assert.False(t, snap.Running)
	assert.Equal(t, defaults, r.DefaultState())
}

func TestResetDoesNotAliasDefaults(t *testing.T) {
	r, _ := startedRuntime(t)
	ctx := context.Background()
	defaults := r.DefaultState()

	r.OnControl(ctx, control(amm.ControlReset))
	require.NoError(t, r.SetCapabilityStatus(ctx, "Foo", amm.StatusInoperative, "down"))

	assert.Equal(t, defaults, r.DefaultState())
}

func TestConfigurationForOtherModuleIgnored(t *testing.T) {
	r, _ := startedRuntime(t)
	ctx := context.Background()

	r.OnControl(ctx, control(amm.ControlRun))
	r.OnTick(ctx, amm.Tick{Frame: 1})
	before := r.Snapshot()

	r.OnConfiguration(ctx, amm.ModuleConfiguration{
		ModuleID:                  "someone-else",
		Name:                      "Other",
		EducationalEncounter:      "encounter-1",
		CapabilitiesConfiguration: "<other/>",
	})

	after := r.Snapshot()
	assert.Equal(t, before, after)
	assert.True(t, after.Running)
}

func TestConfigurationForThisModuleHalts(t *testing.T) {
	for _, running := range []bool{true, false} {
		r, _ := startedRuntime(t)
		ctx := context.Background()
		if running {
			r.OnControl(ctx, control(amm.ControlRun))
		}

		cfg := amm.ModuleConfiguration{
			ModuleID:                  testModuleID,
			Name:                      "Example Module",
			EducationalEncounter:      "encounter-2",
			Timestamp:                 1234,
			CapabilitiesConfiguration: "<configured/>",
		}
		r.OnConfiguration(ctx, cfg)

		snap := r.Snapshot()
		assert.False(t, snap.Running)
		assert.Equal(t, cfg, snap.State.Configuration)
		assert.Equal(t, "encounter-2", snap.State.EducationalEncounter)
	}
}

func TestTicksCountOnlyWhileRunning(t *testing.T) {
	r, _ := startedRuntime(t)
	ctx := context.Background()

	r.OnTick(ctx, amm.Tick{Frame: 1})
	assert.Equal(t, 0, r.Snapshot().State.TickCount)

	r.OnControl(ctx, control(amm.ControlRun))
	for i := 0; i < 5; i++ {
		r.OnTick(ctx, amm.Tick{Frame: uint64(i)})
	}
	assert.Equal(t, 5, r.Snapshot().State.TickCount)
}

func TestRunTickHaltResetScenario(t *testing.T) {
	r, _ := startedRuntime(t)
	ctx := context.Background()

	r.OnControl(ctx, control(amm.ControlRun))
	for i := 0; i < 3; i++ {
		r.OnTick(ctx, amm.Tick{Frame: uint64(i)})
	}
	r.OnControl(ctx, control(amm.ControlHalt))
	r.OnTick(ctx, amm.Tick{Frame: 3})
	r.OnTick(ctx, amm.Tick{Frame: 4})

	assert.Equal(t, 3, r.Snapshot().State.TickCount)

	r.OnControl(ctx, control(amm.ControlReset))
	assert.Equal(t, 0, r.Snapshot().State.TickCount)
	assert.False(t, r.Running())
}

func TestSaveWritesConfigurationOnce(t *testing.T) {
	clock := int64(1000)
	r, gw := startedRuntime(t, WithClock(func() int64 { return clock }))
	ctx := context.Background()

	r.OnControl(ctx, control(amm.ControlRun))
	before := r.Snapshot()

	clock = 2000
	r.OnControl(ctx, control(amm.ControlSave))

	writes := gw.writesOf(amm.TopicModuleConfiguration)
	require.Len(t, writes, 1)
	saved := writes[0].(amm.ModuleConfiguration)
	assert.Equal(t, testModuleID, saved.ModuleID)
	assert.Equal(t, int64(2000), saved.Timestamp)
	assert.Equal(t, before.State.Configuration.CapabilitiesConfiguration, saved.CapabilitiesConfiguration)

	assert.Equal(t, before, r.Snapshot())
	assert.Len(t, gw.writes, 1)
}

func TestSaveWriteFailureIsNotFatal(t *testing.T) {
	r, gw := startedRuntime(t)
	gw.writeErr = errors.New("link down")

	r.OnControl(context.Background(), control(amm.ControlSave))

	assert.Equal(t, PhaseReady, r.Phase())
	r.OnControl(context.Background(), control(amm.ControlRun))
	assert.True(t, r.Running())
}

func TestUnknownControlIgnored(t *testing.T) {
	r, gw := startedRuntime(t)
	before := r.Snapshot()

	r.OnControl(context.Background(), control("REWIND"))

	assert.Equal(t, before, r.Snapshot())
	assert.Empty(t, gw.writes)
}

func TestSetCapabilityStatus(t *testing.T) {
	r, gw := startedRuntime(t, WithClock(func() int64 { return 777 }))
	ctx := context.Background()

	require.NoError(t, r.SetCapabilityStatus(ctx, "Foo", amm.StatusInoperative, "sensor offline"))

	writes := gw.writesOf(amm.TopicStatus)
	require.Len(t, writes, 1)
	status := writes[0].(amm.Status)
	assert.Equal(t, amm.StatusInoperative, status.Value)
	assert.Equal(t, "sensor offline", status.Message)
	assert.Equal(t, int64(777), status.Timestamp)
	assert.Equal(t, status, r.Snapshot().State.Statuses[0])

	err := r.SetCapabilityStatus(ctx, "Bar", amm.StatusError, "")
	assert.ErrorIs(t, err, ErrUnknownCapability)

	err = r.SetCapabilityStatus(ctx, "Foo", "MAYBE", "")
	assert.ErrorIs(t, err, ErrInvalidStatusValue)
	assert.Len(t, gw.writesOf(amm.TopicStatus), 1)
}

func TestRepublishStatusesRefreshesTimestamps(t *testing.T) {
	clock := int64(10)
	r, gw := startedRuntime(t, WithClock(func() int64 { return clock }))

	clock = 20
	require.NoError(t, r.RepublishStatuses(context.Background()))

	writes := gw.writesOf(amm.TopicStatus)
	require.Len(t, writes, 1)
	assert.Equal(t, int64(20), writes[0].(amm.Status).Timestamp)
	assert.Equal(t, int64(20), r.Snapshot().State.Statuses[0].Timestamp)
}

func TestRepublishStatusesReportsWriteErrors(t *testing.T) {
	r, gw := startedRuntime(t)
	gw.writeErr = errors.New("link down")

	err := r.RepublishStatuses(context.Background())
	assert.Error(t, err)
}

func TestStatusOperationsRejectedAfterShutdown(t *testing.T) {
	r, _ := startedRuntime(t)
	require.NoError(t, r.Shutdown(context.Background()))

	assert.ErrorIs(t, r.SetCapabilityStatus(context.Background(), "Foo", amm.StatusError, ""), ErrNotAccepting)
	assert.ErrorIs(t, r.RepublishStatuses(context.Background()), ErrNotAccepting)
}
