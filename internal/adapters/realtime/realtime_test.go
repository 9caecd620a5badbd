package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordLink struct {
	mu     sync.Mutex
	sent   []core.Envelope
	closed int
}

func (l *recordLink) send(_ context.Context, env core.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, env)
	return nil
}

func (l *recordLink) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
}

func nextEvent(t *testing.T, events <-chan core.RealtimeEvent) core.RealtimeEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return core.RealtimeEvent{}
}

func TestSubscription_PresenceStateIsDiffed(t *testing.T) {
	sub := newSubscription("r", "me", &recordLink{}, zerolog.Nop())

	go func() {
		sub.deliver(core.Envelope{Type: core.TypePresenceState, Presences: core.PresenceMap{
			"a": json.RawMessage(`{"name":"A"}`),
			"b": json.RawMessage(`{"name":"B"}`),
		}})
		sub.deliver(core.Envelope{Type: core.TypePresenceState, Presences: core.PresenceMap{
			"a": json.RawMessage(`{"name":"A2"}`),
		}})
	}()

	ev := nextEvent(t, sub.Events())
	assert.Equal(t, core.EventPresenceJoin, ev.Kind)
	assert.Len(t, ev.Presences, 2)
	ev = nextEvent(t, sub.Events())
	assert.Equal(t, core.EventPresenceSync, ev.Kind)
	assert.Len(t, ev.Presences, 2)

	ev = nextEvent(t, sub.Events())
	assert.Equal(t, core.EventPresenceLeave, ev.Kind)
	assert.Contains(t, ev.Presences, core.SessionID("b"))
	ev = nextEvent(t, sub.Events())
	assert.Equal(t, core.EventPresenceJoin, ev.Kind)
	assert.JSONEq(t, `{"name":"A2"}`, string(ev.Presences["a"]))
	ev = nextEvent(t, sub.Events())
	assert.Equal(t, core.EventPresenceSync, ev.Kind)
	assert.Len(t, ev.Presences, 1)
}

func TestSubscription_KickedEndsWithClosedEvent(t *testing.T) {
	l := &recordLink{}
	sub := newSubscription("r", "me", l, zerolog.Nop())

	go func() {
		sub.deliver(core.Envelope{Type: core.TypeBroadcast, Event: "offer", Payload: json.RawMessage(`{}`)})
		sub.deliver(core.Envelope{Type: core.TypeLeft})
		sub.finish(ErrClosed)
	}()

	ev := nextEvent(t, sub.Events())
	assert.Equal(t, core.EventBroadcast, ev.Kind)
	assert.Equal(t, "offer", ev.Event)
	ev = nextEvent(t, sub.Events())
	assert.Equal(t, core.EventClosed, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrKicked)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.closed == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscription_LeaveClosesQuietly(t *testing.T) {
	l := &recordLink{}
	sub := newSubscription("r", "me", l, zerolog.Nop())

	require.NoError(t, sub.Leave())
	require.NoError(t, sub.Leave())
	sub.finish(ErrClosed)

	_, ok := <-sub.Events()
	assert.False(t, ok, "no closed event after Leave")
	require.Len(t, l.sent, 1)
	assert.Equal(t, core.TypeLeave, l.sent[0].Type)
	assert.Equal(t, 1, l.closed)
}

func newOrch() *orch.Orchestrator {
	return &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
}

func TestLocal_PresenceAndBroadcast(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	alice, err := domain.NewUser("alice")
	require.NoError(t, err)
	bob, err := domain.NewUser("bob")
	require.NoError(t, err)

	subA, err := NewLocal(o, alice).Join(ctx, "room", "ka")
	require.NoError(t, err)
	ev := nextEvent(t, subA.Events())
	assert.Equal(t, core.EventPresenceSync, ev.Kind)
	assert.Empty(t, ev.Presences)
	require.NoError(t, subA.Track(ctx, json.RawMessage(`{"name":"alice"}`)))

	subB, err := NewLocal(o, bob).Join(ctx, "room", "kb")
	require.NoError(t, err)
	ev = nextEvent(t, subB.Events())
	assert.Equal(t, core.EventPresenceJoin, ev.Kind)
	assert.Contains(t, ev.Presences, core.SessionID("ka"))
	ev = nextEvent(t, subB.Events())
	assert.Equal(t, core.EventPresenceSync, ev.Kind)

	require.NoError(t, subB.Broadcast(ctx, "ping-peer", json.RawMessage(`{"to":"ka"}`)))
	for {
		ev = nextEvent(t, subA.Events())
		if ev.Kind == core.EventBroadcast {
			break
		}
	}
	assert.Equal(t, "ping-peer", ev.Event)

	require.NoError(t, subB.Leave())
	_, ok := <-subB.Events()
	for ok {
		_, ok = <-subB.Events()
	}
	room, found := o.Rooms.GetRoom("room")
	require.True(t, found)
	assert.Equal(t, 1, room.MemberCount())

	require.NoError(t, subA.Leave())
	_, found = o.Rooms.GetRoom("room")
	assert.False(t, found, "empty rooms are dropped")
}

func TestLocal_JoinRejectsEmptyKey(t *testing.T) {
	o := newOrch()
	u, err := domain.NewUser("u")
	require.NoError(t, err)

	_, err = NewLocal(o, u).Join(context.Background(), "room", "")
	assert.ErrorIs(t, err, orch.ErrEmptyKey)
	assert.Empty(t, o.Registry.MembersOfRoom("room"))
}
