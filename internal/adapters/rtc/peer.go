package rtc

import (
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Peer is a core.PeerConn over a pion PeerConnection.
type Peer struct {
	pc     *webrtc.PeerConnection
	remote core.SessionID
	h      core.PeerHandlers
	logger zerolog.Logger

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	dc      *webrtc.DataChannel
}

func (p *Peer) bind() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && p.h.OnICECandidate != nil {
			p.h.OnICECandidate(c.ToJSON())
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if p.h.OnStateChange != nil {
			p.h.OnStateChange(s)
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if p.h.OnTrack != nil {
			p.h.OnTrack(track)
		}
	})

	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChatLabel {
			p.logger.Warn().Str("label", dc.Label()).Msg("ignoring unknown data channel")
			return
		}
		p.adopt(dc)
	})
}

func (p *Peer) adopt(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.h.OnMessage != nil {
			p.h.OnMessage(msg.Data, !msg.IsString)
		}
	})
}

func (p *Peer) SetTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sender, ok := p.senders[kind]
	switch {
	case track == nil && !ok:
		return nil
	case track == nil:
		delete(p.senders, kind)
		return p.pc.RemoveTrack(sender)
	case ok:
		if sender.Track() == track {
			return nil
		}
		return sender.ReplaceTrack(track)
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	p.senders[kind] = sender
	go drainRTCP(sender)
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// CreateOffer adds receive-only transceivers for kinds not sent yet, so a
// peer without local media still receives.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if p.hasTransceiver(kind) {
			continue
		}
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *Peer) hasTransceiver(kind webrtc.RTPCodecType) bool {
	for _, t := range p.pc.GetTransceivers() {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (p *Peer) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *Peer) AcceptAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *Peer) Send(data []byte, binary bool) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return core.ErrChannelNotOpen
	}
	if binary {
		return dc.Send(data)
	}
	return dc.SendText(string(data))
}

func (p *Peer) Close() error {
	err := p.pc.Close()
	if err != nil {
		p.logger.Error().Err(err).Msg("close error")
	} else {
		p.logger.Info().Msg("closed")
	}
	return err
}
