package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRealtime struct {
	mu    sync.Mutex
	joins []domain.RoomID
	subs  []*fakeSub
	err   error
}

func (r *fakeRealtime) Join(_ context.Context, topic domain.RoomID, _ core.SessionID) (core.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	sub := &fakeSub{events: make(chan core.RealtimeEvent, 16)}
	r.joins = append(r.joins, topic)
	r.subs = append(r.subs, sub)
	return sub, nil
}

type fakeSub struct {
	mu         sync.Mutex
	tracked    []json.RawMessage
	broadcasts []string
	left       bool
	events     chan core.RealtimeEvent
}

func (s *fakeSub) Track(_ context.Context, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = append(s.tracked, payload)
	return nil
}

func (s *fakeSub) Broadcast(_ context.Context, event string, _ json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, event)
	return nil
}

func (s *fakeSub) Events() <-chan core.RealtimeEvent { return s.events }

func (s *fakeSub) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = true
	return nil
}

func presenceMap(t *testing.T, ids ...string) core.PresenceMap {
	t.Helper()
	m := make(core.PresenceMap, len(ids))
	for _, id := range ids {
		raw, err := json.Marshal(domain.Presence{ID: id, Name: "n-" + id})
		require.NoError(t, err)
		m[core.SessionID(id)] = raw
	}
	return m
}

func newTestSignaling(rt core.Realtime, self core.SessionID) (*Signaling, chan Event) {
	events := make(chan Event, 16)
	return NewSignaling(rt, self, func(ev Event) { events <- ev }), events
}

func recv(t *testing.T, events chan Event) channelEvent {
	t.Helper()
	select {
	case ev := <-events:
		ce, ok := ev.(channelEvent)
		require.True(t, ok, "got %T", ev)
		return ce
	case <-timeoutCh():
		t.Fatal("no event posted")
	}
	return channelEvent{}
}

func TestSignaling_SubscribeIsIdempotentPerRoom(t *testing.T) {
	rt := &fakeRealtime{}
	sig, _ := newTestSignaling(rt, "me")
	ctx := context.Background()

	require.NoError(t, sig.Subscribe(ctx, "r1"))
	require.NoError(t, sig.Subscribe(ctx, "r1"))
	assert.ErrorIs(t, sig.Subscribe(ctx, "r2"), ErrInvalidTransition)
	assert.Equal(t, []domain.RoomID{"r1"}, rt.joins)
	assert.Equal(t, domain.RoomID("r1"), sig.Room())

	require.NoError(t, sig.Unsubscribe())
	assert.True(t, rt.subs[0].left)
	assert.False(t, sig.Subscribed())
	require.NoError(t, sig.Unsubscribe())
}

func TestSignaling_RequiresSubscription(t *testing.T) {
	sig, _ := newTestSignaling(&fakeRealtime{}, "me")
	assert.ErrorIs(t, sig.Track(context.Background(), domain.Presence{}), ErrNotSubscribed)
	assert.ErrorIs(t, sig.Send(context.Background(), Signal{Kind: KindOffer, To: "x"}), ErrNotSubscribed)
}

func TestSignaling_JoinFailureIsChannelError(t *testing.T) {
	sig, _ := newTestSignaling(&fakeRealtime{err: errors.New("refused")}, "me")
	err := sig.Subscribe(context.Background(), "r1")
	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "subscribe", ce.Op)
	assert.False(t, sig.Subscribed())
}

func TestSignaling_TrackStampsOwnID(t *testing.T) {
	rt := &fakeRealtime{}
	sig, _ := newTestSignaling(rt, "me")
	require.NoError(t, sig.Subscribe(context.Background(), "r1"))

	require.NoError(t, sig.Track(context.Background(), domain.Presence{ID: "spoofed", Name: "Me"}))

	var p domain.Presence
	require.NoError(t, json.Unmarshal(rt.subs[0].tracked[0], &p))
	assert.Equal(t, "me", p.ID)
	assert.Equal(t, "Me", p.Name)
}

func TestSignaling_PresenceExcludesSelf(t *testing.T) {
	rt := &fakeRealtime{}
	sig, events := newTestSignaling(rt, "me")
	require.NoError(t, sig.Subscribe(context.Background(), "r1"))
	sub := rt.subs[0]

	sub.events <- core.RealtimeEvent{Kind: core.EventPresenceJoin, Presences: presenceMap(t, "me")}
	sub.events <- core.RealtimeEvent{Kind: core.EventPresenceSync, Presences: presenceMap(t, "zed", "me", "amy")}

	ce := recv(t, events)
	assert.True(t, sig.Current(ce.epoch))
	ps, ok := ce.ev.(PresenceSync)
	require.True(t, ok, "a join of only self is dropped, got %T", ce.ev)
	require.Len(t, ps.Presences, 2)
	assert.Equal(t, "amy", ps.Presences[0].ID)
	assert.Equal(t, "n-amy", ps.Presences[0].Name)
	assert.Equal(t, "zed", ps.Presences[1].ID)
}

func TestSignaling_SignalsAddressedElsewhereAreDropped(t *testing.T) {
	rt := &fakeRealtime{}
	sig, events := newTestSignaling(rt, "me")
	require.NoError(t, sig.Subscribe(context.Background(), "r1"))
	sub := rt.subs[0]

	other, err := encodeSignal("peer", Signal{Kind: KindOffer, To: "someone-else", SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}})
	require.NoError(t, err)
	mine, err := encodeSignal("peer", Signal{Kind: KindCandidate, To: "me", Candidate: webrtc.ICECandidateInit{Candidate: "c"}})
	require.NoError(t, err)

	sub.events <- core.RealtimeEvent{Kind: core.EventBroadcast, Event: KindOffer, Payload: other}
	sub.events <- core.RealtimeEvent{Kind: core.EventBroadcast, Event: KindOffer, Payload: json.RawMessage(`{"to":`)}
	sub.events <- core.RealtimeEvent{Kind: core.EventBroadcast, Event: KindCandidate, Payload: mine}

	ce := recv(t, events)
	cand, ok := ce.ev.(CandidateReceived)
	require.True(t, ok, "got %T", ce.ev)
	assert.Equal(t, core.SessionID("peer"), cand.From)
	assert.Equal(t, "c", cand.Candidate.Candidate)
}

func TestSignaling_ClosedAndEpochs(t *testing.T) {
	rt := &fakeRealtime{}
	sig, events := newTestSignaling(rt, "me")
	require.NoError(t, sig.Subscribe(context.Background(), "r1"))
	rt.subs[0].events <- core.RealtimeEvent{Kind: core.EventClosed, Err: errors.New("gone")}

	ce := recv(t, events)
	closed, ok := ce.ev.(ChannelClosed)
	require.True(t, ok)
	assert.EqualError(t, closed.Err, "gone")

	require.NoError(t, sig.Unsubscribe())
	require.NoError(t, sig.Subscribe(context.Background(), "r1"))
	assert.False(t, sig.Current(ce.epoch), "events of an old subscription are stale")
}

func TestWire_AnswerRoundTrip(t *testing.T) {
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	raw, err := encodeSignal("a", Signal{Kind: KindAnswer, To: "b", SDP: sdp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":{"type":"answer","sdp":"v=0"},"to":"b","from":"a"}`, string(raw))

	ev, err := decodeSignal("b", KindAnswer, raw)
	require.NoError(t, err)
	assert.Equal(t, AnswerReceived{From: "a", SDP: sdp}, ev)

	_, err = encodeSignal("a", Signal{Kind: "bye"})
	assert.Error(t, err)
}
