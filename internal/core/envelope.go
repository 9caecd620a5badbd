package core

import (
	"encoding/json"

	"github.com/dkeye/Mesh/internal/domain"
)

// Envelope types exchanged between relay clients and the relay.
const (
	// client -> relay
	TypeJoin      = "join"
	TypeTrack     = "track"
	TypeBroadcast = "broadcast"
	TypeLeave     = "leave"
	TypePing      = "ping"

	// relay -> client
	TypeJoined        = "joined"
	TypePresenceState = "presence_state"
	TypePresenceDiff  = "presence_diff"
	TypeLeft          = "left"
	TypePong          = "pong"
	TypeError         = "error"
)

// PresenceMap maps presence keys to their opaque published payloads.
type PresenceMap map[SessionID]json.RawMessage

// Envelope is the single JSON frame shape of the relay protocol.
type Envelope struct {
	Type      string          `json:"type"`
	Topic     domain.RoomID   `json:"topic,omitempty"`
	Key       SessionID       `json:"key,omitempty"`
	Event     string          `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Presences PresenceMap     `json:"presences,omitempty"`
	Joins     PresenceMap     `json:"joins,omitempty"`
	Leaves    PresenceMap     `json:"leaves,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func EncodeEnvelope(env Envelope) (Frame, error) {
	return json.Marshal(env)
}

func DecodeEnvelope(f Frame) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(f, &env)
	return env, err
}
