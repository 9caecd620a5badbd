package core

import (
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is an inbound media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// PeerHandlers are invoked from transport goroutines; implementations must
// hand work off rather than block.
type PeerHandlers struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnTrack        func(RemoteTrack)
	OnStateChange  func(webrtc.PeerConnectionState)
	OnMessage      func(data []byte, binary bool)
}

// PeerConn is one peer-to-peer media connection plus its data channel.
type PeerConn interface {
	// SetTrack attaches, replaces or (nil track) removes the outgoing sender of kind.
	SetTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the applied local answer.
	AcceptOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// AcceptAnswer applies a remote answer.
	AcceptAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// Send writes one message on the data channel.
	Send(data []byte, binary bool) error
	// Close should stop all underlying media resources.
	Close() error
}

// PeerFactory creates connections. The initiator side owns the data channel.
type PeerFactory interface {
	NewPeer(remote SessionID, initiator bool, h PeerHandlers) (PeerConn, error)
}

// ErrChannelNotOpen is returned by PeerConn.Send before the data channel opens.
var ErrChannelNotOpen = errors.New("data channel not open")
