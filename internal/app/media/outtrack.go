package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// SinkState controls what a relay does with packets for one sink.
type SinkState int32

const (
	// SinkStateOk forwards every packet.
	SinkStateOk SinkState = iota
	// SinkStateMuted drops packets but keeps the sink attached. A muted
	// capture keeps its encoder and its sender; peers just stop getting RTP.
	SinkStateMuted
	// SinkStateDelete detaches the sink on the next packet.
	SinkStateDelete
)

// PacketSink receives relayed RTP. The capture pump writes into a
// *webrtc.TrackLocalStaticRTP; remote tracks drain into a *Meter.
type PacketSink interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack is one sink of a relay together with its state. The state is
// flipped from the session loop while the relay goroutine reads it.
type OutTrack struct {
	Sink  PacketSink
	state atomic.Int32
}

func NewOutTrack(sink PacketSink) *OutTrack {
	return &OutTrack{Sink: sink}
}

func (ot *OutTrack) GetState() SinkState {
	return SinkState(ot.state.Load())
}

// MarkOk resumes forwarding after a mute.
func (ot *OutTrack) MarkOk() {
	ot.state.Store(int32(SinkStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.Store(int32(SinkStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(SinkStateDelete))
}
