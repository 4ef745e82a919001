package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveWrite(amm.TopicStatus, nil)
	m.ObserveWrite(amm.TopicStatus, errors.New("down"))
	m.ObserveReceive(amm.TopicTick)
	m.ObserveReceive(amm.TopicTick)
	m.ObserveDecodeFailure(amm.TopicTick)
	m.ObserveIgnored(amm.TopicTick, "halted")
	m.ObserveControl(amm.ControlRun)
	m.SetRunning(true)
	m.SetTickCount(7)
	m.SetPhase("", "READY")
	m.SetPhase("READY", "SHUTTING_DOWN")

	body := scrape(t, m)
	assert.Contains(t, body, `simmodule_gateway_events_received_total{topic="tick"} 2`)
	assert.Contains(t, body, `simmodule_gateway_decode_failures_total{topic="tick"} 1`)
	assert.Contains(t, body, `simmodule_module_events_ignored_total{reason="halted",topic="tick"} 1`)
	assert.Contains(t, body, `simmodule_module_control_commands_total{type="RUN"} 1`)
	assert.Contains(t, body, `simmodule_module_running 1`)
	assert.Contains(t, body, `simmodule_module_tick_count 7`)
	assert.Contains(t, body, `simmodule_module_phase{phase="READY"} 0`)
	assert.Contains(t, body, `simmodule_module_phase{phase="SHUTTING_DOWN"} 1`)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveWrite(amm.TopicStatus, nil)
		m.ObserveReceive(amm.TopicStatus)
		m.ObserveDecodeFailure(amm.TopicStatus)
		m.ObserveIgnored(amm.TopicStatus, "x")
		m.ObserveControl(amm.ControlHalt)
		m.SetRunning(false)
		m.SetTickCount(1)
		m.SetPhase("", "READY")
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveControl(amm.ControlSave)

	assert.Contains(t, scrape(t, m), `simmodule_module_control_commands_total{type="SAVE"} 1`)
}
