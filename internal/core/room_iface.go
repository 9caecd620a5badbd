package core

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Mesh/internal/domain"
)

var ErrKeyInUse = errors.New("presence key already in use")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	Key      SessionID       `json:"key"`
	UserID   domain.UserID   `json:"user_id"`
	Username string          `json:"username"`
	Presence json.RawMessage `json:"presence,omitempty"`
}

// RoomService is the core-facing API of a room topic.
// It owns the membership set and presence state but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Presences() PresenceMap

	AddMember(key SessionID, ms MemberSession) error
	RemoveMember(key SessionID) (json.RawMessage, bool)
	SetPresence(key SessionID, payload json.RawMessage) bool
	// Broadcast fans data out to every member except from.
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	GetRoom(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
