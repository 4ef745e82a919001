package module

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	valid := [][2]Phase{
		{PhaseUninitialized, PhaseAnnouncing},
		{PhaseUninitialized, PhaseTerminated},
		{PhaseAnnouncing, PhaseReady},
		{PhaseAnnouncing, PhaseFailed},
		{PhaseReady, PhaseShuttingDown},
		{PhaseShuttingDown, PhaseTerminated},
		{PhaseFailed, PhaseTerminated},
	}
	for _, tr := range valid {
		assert.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]Phase{
		{PhaseUninitialized, PhaseReady},
		{PhaseReady, PhaseAnnouncing},
		{PhaseReady, PhaseTerminated},
		{PhaseTerminated, PhaseAnnouncing},
		{PhaseFailed, PhaseReady},
		{Phase(42), PhaseReady},
	}
	for _, tr := range invalid {
		assert.Error(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestPhaseMarshalsAsName(t *testing.T) {
	data, err := json.Marshal(map[string]Phase{"phase": PhaseShuttingDown})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"SHUTTING_DOWN"}`, string(data))
	assert.Equal(t, "UNKNOWN", Phase(99).String())
}
