package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxPending bounds the candidates buffered per peer before its remote
// description is applied.
const maxPending = 64

// ShouldInitiate reports whether local offers to remote when remote is first
// seen in presence. Exactly one side of every pair gets true.
func ShouldInitiate(local, remote core.SessionID) bool {
	return remote > local
}

// SignalSender delivers signals to one remote session.
type SignalSender interface {
	Send(ctx context.Context, sig Signal) error
}

// Negotiator drives offer/answer/ICE for every peer of the room. Handle is
// its transition function; it must only be called from the session loop.
type Negotiator struct {
	self    core.SessionID
	reg     *Registry
	factory core.PeerFactory
	signals SignalSender
	relays  *media.RelayManager
	post    func(Event)
	timeout time.Duration
	logger  zerolog.Logger

	ctx      context.Context
	gen      uint64
	outgoing map[webrtc.RTPCodecType]webrtc.TrackLocal
	orphans  map[core.SessionID][]webrtc.ICECandidateInit
}

type NegotiatorConfig struct {
	Self     core.SessionID
	Registry *Registry
	Factory  core.PeerFactory
	Signals  SignalSender
	Relays   *media.RelayManager
	Post     func(Event)
	// Timeout drops peers that are not connected in time. Zero disables it.
	Timeout time.Duration
}

func NewNegotiator(cfg NegotiatorConfig) *Negotiator {
	relays := cfg.Relays
	if relays == nil {
		relays = media.NewRelayManager()
	}
	return &Negotiator{
		self:     cfg.Self,
		reg:      cfg.Registry,
		factory:  cfg.Factory,
		signals:  cfg.Signals,
		relays:   relays,
		post:     cfg.Post,
		timeout:  cfg.Timeout,
		logger:   log.With().Str("module", "call.negotiator").Str("sid", string(cfg.Self)).Logger(),
		ctx:      context.Background(),
		outgoing: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		orphans:  make(map[core.SessionID][]webrtc.ICECandidateInit),
	}
}

// Bind sets the context used for signal sends and remote track relays.
func (n *Negotiator) Bind(ctx context.Context) { n.ctx = ctx }

// SetOutgoing sets the track attached to new peers for kind. Nil clears it.
func (n *Negotiator) SetOutgoing(kind webrtc.RTPCodecType, t webrtc.TrackLocal) {
	if t == nil {
		delete(n.outgoing, kind)
		return
	}
	n.outgoing[kind] = t
}

func (n *Negotiator) Handle(ev Event) {
	switch e := ev.(type) {
	case PresenceSync:
		n.reg.SetParticipants(e.Presences)
	case PresenceJoin:
		for _, p := range e.Presences {
			n.onJoin(p.ID, func() { n.reg.PutParticipant(p) })
		}
	case PresenceLeave:
		for _, p := range e.Presences {
			id := core.SessionID(p.ID)
			n.reg.RemoveParticipant(id)
			delete(n.orphans, id)
			if n.teardown(id, PeerClosed) {
				n.logger.Info().Str("peer", p.ID).Msg("peer left")
			}
		}
	case OfferReceived:
		n.onOffer(e.From, e.SDP)
	case AnswerReceived:
		n.onAnswer(e.From, e.SDP)
	case CandidateReceived:
		n.onCandidate(e.From, e.Candidate)
	case LocalCandidate:
		if _, ok := n.current(e.Peer, e.Gen); !ok {
			return
		}
		if err := n.signals.Send(n.ctx, Signal{Kind: KindCandidate, To: e.Peer, Candidate: e.Candidate}); err != nil {
			n.logger.Warn().Err(err).Str("peer", string(e.Peer)).Msg("send candidate failed")
		}
	case PeerStateChanged:
		n.onState(e)
	case RemoteTrackAdded:
		n.onTrack(e)
	case RemoteTrackEnded:
		n.onTrackEnded(e)
	case NegotiationTimeout:
		entry, ok := n.current(e.Peer, e.Gen)
		if !ok || entry.State == PeerConnected {
			return
		}
		n.fail(e.Peer, "wait connected", context.DeadlineExceeded)
	}
}

func (n *Negotiator) onJoin(id string, record func()) {
	peer := core.SessionID(id)
	_, known := n.reg.Participant(peer)
	record()
	if known || peer == n.self {
		return
	}
	if _, ok := n.reg.Peer(peer); ok {
		return
	}
	if !ShouldInitiate(n.self, peer) {
		n.logger.Debug().Str("peer", id).Msg("waiting for offer")
		return
	}
	if _, _, err := n.ensure(peer, true); err != nil {
		n.fail(peer, "create peer", err)
		return
	}
	n.offer(peer)
}

// ensure returns the entry for peer, creating it with the outgoing tracks
// attached if absent. An existing entry is always reused.
func (n *Negotiator) ensure(peer core.SessionID, initiator bool) (*PeerEntry, bool, error) {
	if e, ok := n.reg.Peer(peer); ok {
		return e, false, nil
	}
	n.gen++
	gen := n.gen
	conn, err := n.factory.NewPeer(peer, initiator, n.handlers(peer, gen))
	if err != nil {
		return nil, false, err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		t, ok := n.outgoing[kind]
		if !ok {
			continue
		}
		if err := conn.SetTrack(kind, t); err != nil {
			_ = conn.Close()
			return nil, false, fmt.Errorf("attach %s: %w", kind, err)
		}
	}

	e := &PeerEntry{
		Peer:      peer,
		Conn:      conn,
		State:     PeerConnecting,
		Initiator: initiator,
		Pending:   n.orphans[peer],
		Gen:       gen,
	}
	delete(n.orphans, peer)
	if n.timeout > 0 {
		e.timer = time.AfterFunc(n.timeout, func() {
			n.post(NegotiationTimeout{Peer: peer, Gen: gen})
		})
	}
	n.reg.PutPeer(e)
	n.logger.Debug().Str("peer", string(peer)).Bool("initiator", initiator).Uint64("gen", gen).Msg("peer created")
	return e, true, nil
}

func (n *Negotiator) handlers(peer core.SessionID, gen uint64) core.PeerHandlers {
	return core.PeerHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			n.post(LocalCandidate{Peer: peer, Gen: gen, Candidate: c})
		},
		OnTrack: func(t core.RemoteTrack) {
			n.post(RemoteTrackAdded{Peer: peer, Gen: gen, Track: t})
		},
		OnStateChange: func(s webrtc.PeerConnectionState) {
			n.post(PeerStateChanged{Peer: peer, Gen: gen, State: s})
		},
		OnMessage: func(data []byte, binary bool) {
			n.post(ChatReceived{Peer: peer, Data: data, Binary: binary})
		},
	}
}

// current returns the entry of peer only if it belongs to generation gen.
func (n *Negotiator) current(peer core.SessionID, gen uint64) (*PeerEntry, bool) {
	e, ok := n.reg.Peer(peer)
	if !ok || e.Gen != gen {
		return nil, false
	}
	return e, true
}

func (n *Negotiator) offer(peer core.SessionID) {
	e, ok := n.reg.Peer(peer)
	if !ok {
		return
	}
	sdp, err := e.Conn.CreateOffer()
	if err != nil {
		n.fail(peer, "create offer", err)
		return
	}
	if err := n.signals.Send(n.ctx, Signal{Kind: KindOffer, To: peer, SDP: sdp}); err != nil {
		n.fail(peer, "send offer", err)
		return
	}
	next := *e
	next.Offers++
	n.reg.PutPeer(&next)
}

func (n *Negotiator) onOffer(from core.SessionID, sdp webrtc.SessionDescription) {
	e, _, err := n.ensure(from, false)
	if err != nil {
		n.fail(from, "create peer", err)
		return
	}
	answer, err := e.Conn.AcceptOffer(sdp)
	if err != nil {
		n.fail(from, "accept offer", err)
		return
	}
	n.remoteApplied(e)
	if err := n.signals.Send(n.ctx, Signal{Kind: KindAnswer, To: from, SDP: answer}); err != nil {
		n.fail(from, "send answer", err)
	}
}

func (n *Negotiator) onAnswer(from core.SessionID, sdp webrtc.SessionDescription) {
	e, ok := n.reg.Peer(from)
	if !ok {
		n.logger.Warn().Err(ErrUnknownPeer).Str("peer", string(from)).Msg("dropping answer")
		return
	}
	if err := e.Conn.AcceptAnswer(sdp); err != nil {
		n.fail(from, "accept answer", err)
		return
	}
	n.remoteApplied(e)
}

// remoteApplied marks the remote description as set and flushes buffered
// candidates.
func (n *Negotiator) remoteApplied(e *PeerEntry) {
	next := *e
	next.RemoteSet = true
	next.Pending = nil
	n.reg.PutPeer(&next)
	for _, c := range e.Pending {
		if err := e.Conn.AddICECandidate(c); err != nil {
			n.logger.Warn().Err(err).Str("peer", string(e.Peer)).Msg("add buffered candidate failed")
		}
	}
}

func (n *Negotiator) onCandidate(from core.SessionID, c webrtc.ICECandidateInit) {
	e, ok := n.reg.Peer(from)
	if !ok {
		if len(n.orphans[from]) < maxPending {
			n.orphans[from] = append(n.orphans[from], c)
		}
		return
	}
	if !e.RemoteSet {
		if len(e.Pending) >= maxPending {
			return
		}
		next := *e
		next.Pending = append(e.Pending[:len(e.Pending):len(e.Pending)], c)
		n.reg.PutPeer(&next)
		return
	}
	if err := e.Conn.AddICECandidate(c); err != nil {
		n.logger.Warn().Err(err).Str("peer", string(from)).Msg("add candidate failed")
	}
}

func (n *Negotiator) onState(ev PeerStateChanged) {
	e, ok := n.current(ev.Peer, ev.Gen)
	if !ok {
		return
	}
	switch ev.State {
	case webrtc.PeerConnectionStateConnected:
		if e.timer != nil {
			e.timer.Stop()
		}
		next := *e
		next.State = PeerConnected
		next.timer = nil
		n.reg.PutPeer(&next)
		n.logger.Info().Str("peer", string(ev.Peer)).Msg("peer connected")
	case webrtc.PeerConnectionStateFailed:
		n.logger.Info().Str("peer", string(ev.Peer)).Str("state", ev.State.String()).Msg("peer connection lost")
		n.teardown(ev.Peer, PeerFailed)
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		n.logger.Info().Str("peer", string(ev.Peer)).Str("state", ev.State.String()).Msg("peer connection lost")
		n.teardown(ev.Peer, PeerClosed)
	}
}

func relayKey(peer core.SessionID, kind webrtc.RTPCodecType) string {
	return string(peer) + "/" + kind.String()
}

func (n *Negotiator) onTrack(ev RemoteTrackAdded) {
	if _, ok := n.current(ev.Peer, ev.Gen); !ok {
		return
	}
	kind := ev.Track.Kind()
	rs, ok := n.reg.Stream(ev.Peer)
	if ok {
		rs = rs.clone()
	} else {
		rs = &RemoteStream{
			Peer:   ev.Peer,
			Tracks: make(map[webrtc.RTPCodecType]core.RemoteTrack),
			meters: make(map[webrtc.RTPCodecType]*media.Meter),
		}
	}
	meter := &media.Meter{}
	rs.Tracks[kind] = ev.Track
	rs.meters[kind] = meter
	n.reg.PutStream(rs)

	key := relayKey(ev.Peer, kind)
	trackID := ev.Track.ID()
	n.relays.StartRelay(n.ctx, key, media.RemoteSource(ev.Track), func(error) {
		n.post(RemoteTrackEnded{Peer: ev.Peer, Gen: ev.Gen, Kind: kind, TrackID: trackID})
	})
	n.relays.AddSink(key, "meter", meter)
	n.logger.Info().Str("peer", string(ev.Peer)).Str("kind", kind.String()).Str("track_id", trackID).Msg("remote track")
}

func (n *Negotiator) onTrackEnded(ev RemoteTrackEnded) {
	if _, ok := n.current(ev.Peer, ev.Gen); !ok {
		return
	}
	rs, ok := n.reg.Stream(ev.Peer)
	if !ok {
		return
	}
	cur, ok := rs.Tracks[ev.Kind]
	if !ok || cur.ID() != ev.TrackID {
		return
	}
	if len(rs.Tracks) == 1 {
		n.reg.RemoveStream(ev.Peer)
		return
	}
	next := rs.clone()
	delete(next.Tracks, ev.Kind)
	delete(next.meters, ev.Kind)
	n.reg.PutStream(next)
}

// Renegotiate swaps the outgoing track of kind on every peer and sends each
// a fresh offer, whichever side initiated originally.
func (n *Negotiator) Renegotiate(kind webrtc.RTPCodecType, t webrtc.TrackLocal) {
	n.SetOutgoing(kind, t)
	for peer, e := range n.reg.Peers() {
		if err := e.Conn.SetTrack(kind, t); err != nil {
			n.fail(peer, "replace track", err)
			continue
		}
		n.offer(peer)
	}
}

// Broadcast sends data on every peer's data channel and returns how many
// accepted it.
func (n *Negotiator) Broadcast(data []byte, binary bool) int {
	delivered := 0
	for peer, e := range n.reg.Peers() {
		if err := e.Conn.Send(data, binary); err != nil {
			if !errors.Is(err, core.ErrChannelNotOpen) {
				n.logger.Warn().Err(err).Str("peer", string(peer)).Msg("chat send failed")
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (n *Negotiator) fail(peer core.SessionID, op string, err error) {
	nerr := &NegotiationError{Peer: peer, Op: op, Err: err}
	n.logger.Error().Err(nerr).Str("peer", string(peer)).Msg("negotiation failed")
	n.teardown(peer, PeerFailed)
}

// teardown closes and forgets everything about peer, leaving final as its
// terminal state. It reports whether a connection existed.
func (n *Negotiator) teardown(peer core.SessionID, final PeerState) bool {
	n.relays.StopRelay(relayKey(peer, webrtc.RTPCodecTypeAudio))
	n.relays.StopRelay(relayKey(peer, webrtc.RTPCodecTypeVideo))
	n.reg.RemoveStream(peer)
	e, ok := n.reg.RemovePeer(peer, final)
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if err := e.Conn.Close(); err != nil {
		n.logger.Debug().Err(err).Str("peer", string(peer)).Msg("close peer")
	}
	return true
}

// Reset closes every peer and forgets all room state.
func (n *Negotiator) Reset() {
	for peer := range n.reg.Peers() {
		n.teardown(peer, PeerClosed)
	}
	n.relays.StopAll()
	n.reg.Clear()
	n.outgoing = make(map[webrtc.RTPCodecType]webrtc.TrackLocal)
	n.orphans = make(map[core.SessionID][]webrtc.ICECandidateInit)
}
