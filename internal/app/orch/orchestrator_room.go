package orch

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join subscribes cid to the room topic under the given presence key and
// replies with the current presence state. Joining the same topic again is a
// no-op; joining another topic leaves the previous one first.
func (o *Orchestrator) Join(cid core.ConnID, roomID domain.RoomID, key core.SessionID) error {
	if key == "" {
		return ErrEmptyKey
	}
	session, ok := o.Registry.GetSession(cid)
	if !ok {
		return ErrUnknownConn
	}
	if cur, curKey, ok := o.Registry.RoomOf(cid); ok {
		if cur == roomID && curKey == key {
			o.reply(cid, core.Envelope{Type: core.TypeJoined, Topic: roomID, Key: key})
			return nil
		}
		o.Leave(cid)
		log.Info().Str("module", "orch").Str("conn", string(cid)).Str("from_room", string(cur)).Msg("left previous room")
	}

	room := o.Rooms.GetOrCreate(roomID)
	if err := room.AddMember(key, session); err != nil {
		return err
	}
	o.Registry.UpdateRoom(cid, roomID, key)
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("room", string(roomID)).Str("key", string(key)).Msg("added to room")

	o.reply(cid, core.Envelope{Type: core.TypeJoined, Topic: roomID, Key: key})
	o.reply(cid, core.Envelope{Type: core.TypePresenceState, Topic: roomID, Presences: room.Presences()})
	return nil
}

// Leave removes cid from its room topic, announcing the presence removal.
func (o *Orchestrator) Leave(cid core.ConnID) {
	roomID, key, ok := o.Registry.RoomOf(cid)
	if !ok {
		return
	}
	o.Registry.RemoveRoom(cid)
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return
	}
	presence, ok := room.RemoveMember(key)
	if ok && presence != nil {
		o.publish(roomID, key, core.Envelope{
			Type:   core.TypePresenceDiff,
			Topic:  roomID,
			Leaves: core.PresenceMap{key: presence},
		})
	}
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
		log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room emptied")
	}
}

func (o *Orchestrator) KickByConn(cid core.ConnID) {
	o.Leave(cid)
	o.reply(cid, core.Envelope{Type: core.TypeLeft})
}

// OnDisconnect releases everything bound to cid. The transport must not be
// used afterwards.
func (o *Orchestrator) OnDisconnect(cid core.ConnID) {
	o.Leave(cid)
	if sess, ok := o.Registry.GetSession(cid); ok {
		sess.Signal().Close()
	}
	o.Registry.Unbind(cid)
}

func (o *Orchestrator) EvictRoom(roomID domain.RoomID) {
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		o.KickByConn(snap.Conn)
	}
	o.Rooms.StopRoom(roomID)
}
