package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/auth"
	"github.com/KevinKickass/OpenSimModule/internal/config"
	"github.com/KevinKickass/OpenSimModule/internal/module"
)

type staticSnapshot module.Snapshot

func (s staticSnapshot) Snapshot() module.Snapshot { return module.Snapshot(s) }

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()

	token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
	require.NoError(t, err)
	authService := auth.NewAuthService(config.AuthConfig{MachineTokenHashes: []string{hash}}, zap.NewNop())

	hub := NewHub(zap.NewNop(), authService)
	hub.SetSnapshotProvider(staticSnapshot{ModuleID: "module-1", Phase: module.PhaseReady})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub, token
}

func dial(t *testing.T, hub *Hub) *gorilla.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestClientMustAuthenticateFirst(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dial(t, hub)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "hello"}))

	msg := readMessage(t, conn)
	assert.Equal(t, string(MessageTypeAuthFailed), msg["type"])

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestClientRejectsInvalidToken(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dial(t, hub)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "osm_nope"}))

	msg := readMessage(t, conn)
	assert.Equal(t, string(MessageTypeAuthFailed), msg["type"])
}

func TestAuthenticatedClientReceivesState(t *testing.T) {
	hub, token := newTestHub(t)
	conn := dial(t, hub)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))

	msg := readMessage(t, conn)
	assert.Equal(t, string(MessageTypeAuthSuccess), msg["type"])

	msg = readMessage(t, conn)
	assert.Equal(t, string(MessageTypeModuleState), msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "snapshot", data["reason"])
	assert.Equal(t, "module-1", data["snapshot"].(map[string]any)["module_id"])
	assert.Equal(t, 1, hub.GetClientCount())

	changes := make(chan module.StateChange, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Forward(ctx, changes)

	snap := module.Snapshot{ModuleID: "module-1", Phase: module.PhaseReady, Running: true}
	snap.State.TickCount = 4
	changes <- module.StateChange{Reason: "tick", Snapshot: snap}
	changes <- module.StateChange{Reason: "halt", Snapshot: snap}

	msg = readMessage(t, conn)
	assert.Equal(t, string(MessageTypeTick), msg["type"])
	assert.Equal(t, float64(4), msg["data"].(map[string]any)["tick_count"])

	msg = readMessage(t, conn)
	assert.Equal(t, string(MessageTypeModuleState), msg["type"])
	assert.Equal(t, "halt", msg["data"].(map[string]any)["reason"])
}

func TestForwardStopsWhenChannelCloses(t *testing.T) {
	hub, _ := newTestHub(t)
	changes := make(chan module.StateChange)
	done := make(chan struct{})

	go func() {
		hub.Forward(context.Background(), changes)
		close(done)
	}()
	close(changes)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return")
	}
}

func TestNewStateChangeMessage(t *testing.T) {
	snap := module.Snapshot{ModuleID: "m"}
	snap.State.TickCount = 9

	msg := NewStateChangeMessage(module.StateChange{Reason: "tick", Snapshot: snap})
	assert.Equal(t, MessageTypeTick, msg.Type)
	assert.Equal(t, TickData{TickCount: 9}, msg.Data)

	msg = NewStateChangeMessage(module.StateChange{Reason: "reset", Snapshot: snap})
	assert.Equal(t, MessageTypeModuleState, msg.Type)
	assert.Equal(t, "reset", msg.Data.(ModuleStateData).Reason)
}
