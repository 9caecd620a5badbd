package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/adapters/realtime"
	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
	cfg := &config.Config{
		Mode:       "release",
		Secret:     "test-secret",
		ReadLimit:  1 << 16,
		PingPeriod: time.Second,
		SendBuffer: 32,
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

func next(t *testing.T, sub core.Subscription, kind core.RealtimeEventKind) core.RealtimeEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "events closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestHealthzAndToken(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Cookies())
}

func TestSignalRelayAndRooms(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	a, err := realtime.NewDialer(wsURL(srv)).Join(ctx, "r1", "aaa")
	require.NoError(t, err)
	defer a.Leave()
	require.NoError(t, a.Track(ctx, json.RawMessage(`{"id":"aaa","name":"alice"}`)))
	ev := next(t, a, core.EventPresenceJoin)
	assert.Contains(t, ev.Presences, core.SessionID("aaa"))

	b, err := realtime.NewDialer(wsURL(srv)).Join(ctx, "r1", "bbb")
	require.NoError(t, err)
	defer b.Leave()

	ev = next(t, b, core.EventPresenceJoin)
	assert.JSONEq(t, `{"id":"aaa","name":"alice"}`, string(ev.Presences["aaa"]))

	require.NoError(t, b.Track(ctx, json.RawMessage(`{"id":"bbb","name":"bob"}`)))
	ev = next(t, a, core.EventPresenceJoin)
	assert.Contains(t, ev.Presences, core.SessionID("bbb"))

	require.NoError(t, b.Broadcast(ctx, "offer", json.RawMessage(`{"to":"aaa","from":"bbb"}`)))
	ev = next(t, a, core.EventBroadcast)
	assert.Equal(t, "offer", ev.Event)

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	var rooms []core.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	resp.Body.Close()
	require.Len(t, rooms, 1)
	assert.Equal(t, 2, rooms[0].MemberCount)

	resp, err = http.Get(srv.URL + "/api/rooms/r1")
	require.NoError(t, err)
	var state roomState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	require.Len(t, state.Members, 2)
	assert.Equal(t, "alice", state.Members[0].Username)

	require.NoError(t, b.Leave())
	ev = next(t, a, core.EventPresenceLeave)
	assert.Contains(t, ev.Presences, core.SessionID("bbb"))
}

func TestEvictRoom(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	a, err := realtime.NewDialer(wsURL(srv)).Join(ctx, "r2", "aaa")
	require.NoError(t, err)
	defer a.Leave()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/rooms/r2", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ev := next(t, a, core.EventClosed)
	assert.ErrorIs(t, ev.Err, realtime.ErrKicked)

	resp, err = http.Get(srv.URL + "/api/rooms/r2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
