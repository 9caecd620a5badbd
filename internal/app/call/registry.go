package call

import (
	"maps"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerState is the lifecycle of one pairing. Closed and Failed are terminal:
// the entry leaves the registry and the state is kept in Ended.
type PeerState int

const (
	PeerNone PeerState = iota
	PeerConnecting
	PeerConnected
	PeerClosed
	PeerFailed
)

func (s PeerState) String() string {
	switch s {
	case PeerNone:
		return "none"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	case PeerFailed:
		return "failed"
	}
	return "unknown"
}

// PeerEntry is an immutable view of one remote peer. Updates publish a copy.
type PeerEntry struct {
	Peer      core.SessionID
	Conn      core.PeerConn
	State     PeerState
	Initiator bool
	RemoteSet bool
	Pending   []webrtc.ICECandidateInit
	Gen       uint64
	Offers    int

	timer *time.Timer
}

// RemoteStream holds the inbound tracks of one peer, one per kind.
type RemoteStream struct {
	Peer   core.SessionID
	Tracks map[webrtc.RTPCodecType]core.RemoteTrack

	meters map[webrtc.RTPCodecType]*media.Meter
}

func (rs *RemoteStream) Track(kind webrtc.RTPCodecType) core.RemoteTrack {
	return rs.Tracks[kind]
}

// Stats returns the packet counters of the track of kind.
func (rs *RemoteStream) Stats(kind webrtc.RTPCodecType) media.MeterStats {
	if m, ok := rs.meters[kind]; ok {
		return m.Stats()
	}
	return media.MeterStats{}
}

func (rs *RemoteStream) clone() *RemoteStream {
	return &RemoteStream{
		Peer:   rs.Peer,
		Tracks: maps.Clone(rs.Tracks),
		meters: maps.Clone(rs.meters),
	}
}

// Registry is the per-session store of peers, their remote streams and
// the room participants. Writes happen on the session loop only; every write
// replaces the published map so readers never see a mutation in place.
type Registry struct {
	peers        atomic.Pointer[map[core.SessionID]*PeerEntry]
	streams      atomic.Pointer[map[core.SessionID]*RemoteStream]
	participants atomic.Pointer[map[core.SessionID]domain.Presence]
	ended        atomic.Pointer[map[core.SessionID]PeerState]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.Clear()
	return r
}

func (r *Registry) Clear() {
	r.peers.Store(&map[core.SessionID]*PeerEntry{})
	r.streams.Store(&map[core.SessionID]*RemoteStream{})
	r.participants.Store(&map[core.SessionID]domain.Presence{})
	r.ended.Store(&map[core.SessionID]PeerState{})
}

func (r *Registry) Peer(id core.SessionID) (*PeerEntry, bool) {
	e, ok := (*r.peers.Load())[id]
	return e, ok
}

// Peers returns the current snapshot. Callers must not modify it.
func (r *Registry) Peers() map[core.SessionID]*PeerEntry {
	return *r.peers.Load()
}

func (r *Registry) PutPeer(e *PeerEntry) {
	next := maps.Clone(*r.peers.Load())
	next[e.Peer] = e
	r.peers.Store(&next)
	if ended := *r.ended.Load(); len(ended) > 0 {
		if _, ok := ended[e.Peer]; ok {
			nextEnded := maps.Clone(ended)
			delete(nextEnded, e.Peer)
			r.ended.Store(&nextEnded)
		}
	}
}

// RemovePeer drops the entry of id and records final as its terminal state.
// The returned entry carries final.
func (r *Registry) RemovePeer(id core.SessionID, final PeerState) (*PeerEntry, bool) {
	cur := *r.peers.Load()
	e, ok := cur[id]
	if !ok {
		return nil, false
	}
	next := maps.Clone(cur)
	delete(next, id)
	r.peers.Store(&next)

	ended := maps.Clone(*r.ended.Load())
	ended[id] = final
	r.ended.Store(&ended)

	out := *e
	out.State = final
	return &out, true
}

// Ended returns the terminal state of the last connection to id, if it ended
// and no newer one exists.
func (r *Registry) Ended(id core.SessionID) (PeerState, bool) {
	s, ok := (*r.ended.Load())[id]
	return s, ok
}

func (r *Registry) Stream(id core.SessionID) (*RemoteStream, bool) {
	s, ok := (*r.streams.Load())[id]
	return s, ok
}

func (r *Registry) Streams() map[core.SessionID]*RemoteStream {
	return *r.streams.Load()
}

func (r *Registry) PutStream(s *RemoteStream) {
	next := maps.Clone(*r.streams.Load())
	next[s.Peer] = s
	r.streams.Store(&next)
}

func (r *Registry) RemoveStream(id core.SessionID) bool {
	cur := *r.streams.Load()
	if _, ok := cur[id]; !ok {
		return false
	}
	next := maps.Clone(cur)
	delete(next, id)
	r.streams.Store(&next)
	return true
}

func (r *Registry) Participant(id core.SessionID) (domain.Presence, bool) {
	p, ok := (*r.participants.Load())[id]
	return p, ok
}

// Participants returns the presence records of the other sessions sorted by id.
func (r *Registry) Participants() []domain.Presence {
	cur := *r.participants.Load()
	out := make([]domain.Presence, 0, len(cur))
	for _, p := range cur {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) PutParticipant(p domain.Presence) {
	next := maps.Clone(*r.participants.Load())
	next[core.SessionID(p.ID)] = p
	r.participants.Store(&next)
}

func (r *Registry) RemoveParticipant(id core.SessionID) {
	cur := *r.participants.Load()
	if _, ok := cur[id]; !ok {
		return
	}
	next := maps.Clone(cur)
	delete(next, id)
	r.participants.Store(&next)
}

func (r *Registry) SetParticipants(ps []domain.Presence) {
	next := make(map[core.SessionID]domain.Presence, len(ps))
	for _, p := range ps {
		next[core.SessionID(p.ID)] = p
	}
	r.participants.Store(&next)
}
