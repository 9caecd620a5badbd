package call

import (
	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Event is anything consumed by the session loop. Peer events carry the
// generation of the connection that produced them; events of a replaced or
// closed connection are dropped.
type Event interface{ event() }

// Signaling channel events. Presences never contain the local session.
type (
	PresenceSync  struct{ Presences []domain.Presence }
	PresenceJoin  struct{ Presences []domain.Presence }
	PresenceLeave struct{ Presences []domain.Presence }

	OfferReceived struct {
		From core.SessionID
		SDP  webrtc.SessionDescription
	}
	AnswerReceived struct {
		From core.SessionID
		SDP  webrtc.SessionDescription
	}
	CandidateReceived struct {
		From      core.SessionID
		Candidate webrtc.ICECandidateInit
	}
	// ChannelClosed reports the subscription ended without Unsubscribe.
	ChannelClosed struct{ Err error }
)

// Peer connection events.
type (
	LocalCandidate struct {
		Peer      core.SessionID
		Gen       uint64
		Candidate webrtc.ICECandidateInit
	}
	PeerStateChanged struct {
		Peer  core.SessionID
		Gen   uint64
		State webrtc.PeerConnectionState
	}
	RemoteTrackAdded struct {
		Peer  core.SessionID
		Gen   uint64
		Track core.RemoteTrack
	}
	RemoteTrackEnded struct {
		Peer    core.SessionID
		Gen     uint64
		Kind    webrtc.RTPCodecType
		TrackID string
	}
	ChatReceived struct {
		Peer   core.SessionID
		Data   []byte
		Binary bool
	}
	NegotiationTimeout struct {
		Peer core.SessionID
		Gen  uint64
	}
)

// ScreenShareEnded is posted when a screen stream's video ends, including
// when sharing is stopped from the system UI.
type ScreenShareEnded struct{ Stream *media.Stream }

// channelEvent tags signaling events with the subscription they came from.
type channelEvent struct {
	epoch uint64
	ev    Event
}

type command struct {
	fn   func() error
	done chan error
}

func (PresenceSync) event()       {}
func (PresenceJoin) event()       {}
func (PresenceLeave) event()      {}
func (OfferReceived) event()      {}
func (AnswerReceived) event()     {}
func (CandidateReceived) event()  {}
func (ChannelClosed) event()      {}
func (LocalCandidate) event()     {}
func (PeerStateChanged) event()   {}
func (RemoteTrackAdded) event()   {}
func (RemoteTrackEnded) event()   {}
func (ChatReceived) event()       {}
func (NegotiationTimeout) event() {}
func (ScreenShareEnded) event()   {}
func (channelEvent) event()       {}
func (command) event()            {}
