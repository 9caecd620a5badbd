package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrNotSubscribed     = errors.New("signaling channel not subscribed")
	ErrNotConnected      = errors.New("session not connected")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrSessionClosed     = errors.New("session closed")
)

// NegotiationError is an SDP or ICE failure with one peer. It never leaves
// the negotiator: the peer is dropped and the error is logged.
type NegotiationError struct {
	Peer core.SessionID
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s: %s: %v", e.Peer, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ChannelError is a signaling subscribe, track or send failure.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
