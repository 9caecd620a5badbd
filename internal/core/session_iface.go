package core

import "github.com/dkeye/Mesh/internal/domain"

// SessionID is the ephemeral per-client key used for presence and signal addressing.
type SessionID string

// ConnID identifies one relay connection (one WebSocket or in-process link).
type ConnID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
