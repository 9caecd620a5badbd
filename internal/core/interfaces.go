package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Mesh/internal/domain"
)

type RealtimeEventKind int

const (
	EventPresenceSync RealtimeEventKind = iota
	EventPresenceJoin
	EventPresenceLeave
	EventBroadcast
	EventClosed
)

func (k RealtimeEventKind) String() string {
	switch k {
	case EventPresenceSync:
		return "presence_sync"
	case EventPresenceJoin:
		return "presence_join"
	case EventPresenceLeave:
		return "presence_leave"
	case EventBroadcast:
		return "broadcast"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// RealtimeEvent is one inbound event of a topic subscription.
// Presences holds the full state for sync and the delta for join/leave.
type RealtimeEvent struct {
	Kind      RealtimeEventKind
	Presences PresenceMap
	Event     string
	Payload   json.RawMessage
	Err       error
}

// Subscription is a joined room topic. Events is closed after the
// subscription ends, the last event being EventClosed.
type Subscription interface {
	Track(ctx context.Context, payload json.RawMessage) error
	Broadcast(ctx context.Context, event string, payload json.RawMessage) error
	Events() <-chan RealtimeEvent
	Leave() error
}

// Realtime is a pub/sub transport with per-topic presence.
type Realtime interface {
	Join(ctx context.Context, topic domain.RoomID, key SessionID) (Subscription, error)
}

// Notifier surfaces user-facing notices.
type Notifier interface {
	Notify(domain.Notice)
}
