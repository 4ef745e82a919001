package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type controlRecorder struct {
	got []amm.ControlType
}

func (c *controlRecorder) onControl(_ context.Context, sc amm.SimulationControl) {
	c.got = append(c.got, sc.Type)
}

func TestTypedHandlerKinds(t *testing.T) {
	rec := &controlRecorder{}
	assert.Equal(t, amm.TopicSimulationControl, OnSimulationControl(rec.onControl).Kind())
	assert.Equal(t, amm.TopicTick, OnTick(func(context.Context, amm.Tick) {}).Kind())
	assert.Equal(t, amm.TopicStatus, OnStatus(func(context.Context, amm.Status) {}).Kind())
	assert.Equal(t, amm.TopicModuleConfiguration, OnModuleConfiguration(func(context.Context, amm.ModuleConfiguration) {}).Kind())
	assert.Equal(t, amm.TopicOperationalDescription, OnOperationalDescription(func(context.Context, amm.OperationalDescription) {}).Kind())
	assert.Equal(t, amm.TopicAssessment, OnAssessment(func(context.Context, amm.Assessment) {}).Kind())
}

func TestTypedHandlerAcceptsMethodValue(t *testing.T) {
	rec := &controlRecorder{}
	h := OnSimulationControl(rec.onControl)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"timestamp":1,"type":"RUN"}`)))
	assert.Equal(t, []amm.ControlType{amm.ControlRun}, rec.got)

	assert.Error(t, h.Handle(context.Background(), []byte(`{"type":`)))
	assert.Len(t, rec.got, 1)
}

func TestRawHandler(t *testing.T) {
	var got json.RawMessage
	h := OnRaw(amm.TopicAssessment, func(_ context.Context, raw json.RawMessage) { got = raw })

	assert.Equal(t, amm.TopicAssessment, h.Kind())
	require.NoError(t, h.Handle(context.Background(), []byte(`{"id":"a1"}`)))
	assert.JSONEq(t, `{"id":"a1"}`, string(got))
}
