package call

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/adapters/capture"
	"github.com/dkeye/Mesh/internal/adapters/realtime"
	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func timeoutCh() <-chan time.Time { return time.After(waitFor) }

var errClosedPeer = errors.New("peer closed")

type pairKey struct{ from, to core.SessionID }

// fakeNet connects fake peers by owner and remote id. Descriptions are opaque;
// applying one delivers the counterpart's current outgoing tracks.
type fakeNet struct {
	mu    sync.Mutex
	peers map[pairKey]*fakePeer
}

func newFakeNet() *fakeNet {
	return &fakeNet{peers: make(map[pairKey]*fakePeer)}
}

func (n *fakeNet) get(from, to core.SessionID) *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[pairKey{from, to}]
}

func (n *fakeNet) put(p *fakePeer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[pairKey{p.owner, p.remote}] = p
}

func (n *fakeNet) drop(p *fakePeer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[pairKey{p.owner, p.remote}] == p {
		delete(n.peers, pairKey{p.owner, p.remote})
	}
}

type fakeFactory struct {
	net  *fakeNet
	self core.SessionID

	mu      sync.Mutex
	created []*fakePeer
	err     error
}

func newFakeFactory(net *fakeNet, self core.SessionID) *fakeFactory {
	return &fakeFactory{net: net, self: self}
}

func (f *fakeFactory) NewPeer(remote core.SessionID, initiator bool, h core.PeerHandlers) (core.PeerConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{
		net:       f.net,
		owner:     f.self,
		remote:    remote,
		initiator: initiator,
		h:         h,
		tracks:    make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		remotes:   make(map[webrtc.RTPCodecType]*fakeRemote),
	}
	f.net.put(p)
	f.created = append(f.created, p)
	return p, nil
}

// last returns the most recent peer created for remote.
func (f *fakeFactory) last(remote core.SessionID) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].remote == remote {
			return f.created[i]
		}
	}
	return nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakePeer struct {
	net       *fakeNet
	owner     core.SessionID
	remote    core.SessionID
	initiator bool
	h         core.PeerHandlers

	mu         sync.Mutex
	tracks     map[webrtc.RTPCodecType]webrtc.TrackLocal
	remotes    map[webrtc.RTPCodecType]*fakeRemote
	candidates []webrtc.ICECandidateInit
	offers     int
	remoteSet  bool
	closed     bool
	offerErr   error
}

func (p *fakePeer) SetTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClosedPeer
	}
	if t == nil {
		delete(p.tracks, kind)
		return nil
	}
	p.tracks[kind] = t
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return webrtc.SessionDescription{}, errClosedPeer
	}
	if p.offerErr != nil {
		p.mu.Unlock()
		return webrtc.SessionDescription{}, p.offerErr
	}
	p.offers++
	p.mu.Unlock()
	go p.h.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:" + string(p.owner)})
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer from " + string(p.owner)}, nil
}

func (p *fakePeer) AcceptOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.applyRemote(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	go p.h.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:" + string(p.owner)})
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer from " + string(p.owner)}, nil
}

func (p *fakePeer) AcceptAnswer(webrtc.SessionDescription) error {
	return p.applyRemote()
}

func (p *fakePeer) applyRemote() error {
	var sent map[webrtc.RTPCodecType]webrtc.TrackLocal
	if cp := p.net.get(p.remote, p.owner); cp != nil {
		sent = cp.outgoing()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errClosedPeer
	}
	p.remoteSet = true
	var added []*fakeRemote
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		local := sent[kind]
		cur := p.remotes[kind]
		if cur != nil && local != nil && cur.id == local.ID() {
			continue
		}
		if cur != nil {
			cur.end()
			delete(p.remotes, kind)
		}
		if local == nil {
			continue
		}
		r := newFakeRemote(local.ID(), local.StreamID(), kind)
		p.remotes[kind] = r
		added = append(added, r)
	}
	p.mu.Unlock()

	for _, r := range added {
		go p.h.OnTrack(r)
	}
	go p.h.OnStateChange(webrtc.PeerConnectionStateConnected)
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remoteSet {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Send(data []byte, binary bool) error {
	p.mu.Lock()
	open := p.remoteSet && !p.closed
	p.mu.Unlock()
	cp := p.net.get(p.remote, p.owner)
	if !open || cp == nil || !cp.isRemoteSet() {
		return core.ErrChannelNotOpen
	}
	msg := append([]byte(nil), data...)
	go cp.h.OnMessage(msg, binary)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, r := range p.remotes {
		r.end()
	}
	p.mu.Unlock()

	p.net.drop(p)
	if cp := p.net.get(p.remote, p.owner); cp != nil {
		cp.endRemotes()
	}
	return nil
}

func (p *fakePeer) outgoing() map[webrtc.RTPCodecType]webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[webrtc.RTPCodecType]webrtc.TrackLocal, len(p.tracks))
	for k, v := range p.tracks {
		out[k] = v
	}
	return out
}

func (p *fakePeer) track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks[kind]
}

func (p *fakePeer) endRemotes() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for kind, r := range p.remotes {
		r.end()
		delete(p.remotes, kind)
	}
}

func (p *fakePeer) isRemoteSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSet && !p.closed
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) offerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *fakePeer) applied() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

// fakeRemote yields a packet every few milliseconds until ended.
type fakeRemote struct {
	id, streamID string
	kind         webrtc.RTPCodecType
	done         chan struct{}
	once         sync.Once
	seq          uint16
}

func newFakeRemote(id, streamID string, kind webrtc.RTPCodecType) *fakeRemote {
	return &fakeRemote{id: id, streamID: streamID, kind: kind, done: make(chan struct{})}
}

func (r *fakeRemote) ID() string                { return r.id }
func (r *fakeRemote) StreamID() string          { return r.streamID }
func (r *fakeRemote) Kind() webrtc.RTPCodecType { return r.kind }

func (r *fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case <-r.done:
		return nil, nil, io.EOF
	case <-time.After(2 * time.Millisecond):
	}
	r.seq++
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: r.seq}, Payload: []byte{0x01, 0x02}}, nil, nil
}

func (r *fakeRemote) end() { r.once.Do(func() { close(r.done) }) }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *recordingNotifier) Notify(n domain.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) has(kind domain.NoticeKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notices {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

// recordingSignals collects outbound signals of a bare negotiator.
type recordingSignals struct {
	mu   sync.Mutex
	sent []Signal
	err  error
}

func (r *recordingSignals) Send(_ context.Context, s Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, s)
	return nil
}

func (r *recordingSignals) of(kind string, to core.SessionID) []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Signal
	for _, s := range r.sent {
		if s.Kind == kind && s.To == to {
			out = append(out, s)
		}
	}
	return out
}

// relayHarness runs sessions against an in-process relay and a fake peer network.
type relayHarness struct {
	t    *testing.T
	orch *orch.Orchestrator
	net  *fakeNet
}

func newRelayHarness(t *testing.T) *relayHarness {
	return &relayHarness{
		t: t,
		orch: &orch.Orchestrator{
			Registry: app.NewRegistry(),
			Rooms:    app.NewRoomManager(),
			Policy:   app.SimplePolicy{},
		},
		net: newFakeNet(),
	}
}

type participant struct {
	*Session
	factory  *fakeFactory
	notes    *recordingNotifier
	capturer *capture.Synthetic
}

func (h *relayHarness) join(id core.SessionID, name string, c *capture.Synthetic) *participant {
	h.t.Helper()
	if c == nil {
		c = &capture.Synthetic{}
	}
	user, err := domain.NewUser(name)
	require.NoError(h.t, err)

	p := &participant{
		factory:  newFakeFactory(h.net, id),
		notes:    &recordingNotifier{},
		capturer: c,
	}
	p.Session = NewSession(Options{
		ID:                 id,
		Profile:            Profile{Name: name},
		Media:              media.NewManager(c),
		Realtime:           realtime.NewLocal(h.orch, user),
		Peers:              p.factory,
		Notifier:           p.notes,
		NegotiationTimeout: 10 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(func() {
		cancel()
		<-p.Done()
	})
	p.Start(ctx)
	return p
}

func (h *relayHarness) memberCount(room domain.RoomID) int {
	r, ok := h.orch.Rooms.GetRoom(room)
	if !ok {
		return 0
	}
	return r.MemberCount()
}

// connectedTo reports whether p holds a connected peer entry for remote.
func connectedTo(p *participant, remote core.SessionID) bool {
	e, ok := p.Peers()[remote]
	return ok && e.State == PeerConnected
}

func newLocalTrack(t *testing.T, mime, id string) webrtc.TrackLocal {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	require.NoError(t, err)
	return tr
}

func remoteTrackID(p *participant, remote core.SessionID, kind webrtc.RTPCodecType) string {
	rs, ok := p.RemoteStreams()[remote]
	if !ok {
		return ""
	}
	t := rs.Track(kind)
	if t == nil {
		return ""
	}
	return t.ID()
}
