package orch

import (
	"encoding/json"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/rs/zerolog/log"
)

// Track publishes or replaces the presence payload of cid and announces it to
// the whole room, the publisher included.
func (o *Orchestrator) Track(cid core.ConnID, payload json.RawMessage) error {
	roomID, key, ok := o.Registry.RoomOf(cid)
	if !ok {
		return ErrNotJoined
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok || !room.SetPresence(key, payload) {
		return ErrNotJoined
	}
	log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("key", string(key)).Msg("presence tracked")

	o.publish(roomID, "", core.Envelope{
		Type:  core.TypePresenceDiff,
		Topic: roomID,
		Joins: core.PresenceMap{key: payload},
	})
	return nil
}
