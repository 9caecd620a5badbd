// Package orch is the relay-side orchestrator: it binds relay connections to
// room topics, keeps presence state and fans broadcasts out to room members.
package orch

import (
	"errors"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined   = errors.New("connection has not joined a topic")
	ErrUnknownConn = errors.New("unknown connection")
	ErrEmptyKey    = errors.New("presence key empty")
	ErrEmptyEvent  = errors.New("broadcast event empty")
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

// Broadcast relays a named event from cid to every other member of its room.
func (o *Orchestrator) Broadcast(cid core.ConnID, event string, payload []byte) error {
	if event == "" {
		return ErrEmptyEvent
	}
	roomID, key, ok := o.Registry.RoomOf(cid)
	if !ok {
		return ErrNotJoined
	}
	o.publish(roomID, key, core.Envelope{
		Type:    core.TypeBroadcast,
		Event:   event,
		Payload: payload,
	})
	return nil
}

// publish encodes env once and fans it out, applying the backpressure policy
// to members that could not take it.
func (o *Orchestrator) publish(roomID domain.RoomID, from core.SessionID, env core.Envelope) {
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return
	}
	frame, err := core.EncodeEnvelope(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", env.Type).Msg("encode envelope")
		return
	}

	res := room.Broadcast(from, frame)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfRoom(roomID) {
				if snap.Session == slow {
					log.Warn().Str("module", "orch").Str("conn", string(snap.Conn)).Msg("kicking slow member")
					o.KickByConn(snap.Conn)
				}
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// reply sends env to a single connection.
func (o *Orchestrator) reply(cid core.ConnID, env core.Envelope) {
	sess, ok := o.Registry.GetSession(cid)
	if !ok {
		return
	}
	frame, err := core.EncodeEnvelope(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", env.Type).Msg("encode envelope")
		return
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(cid)).Str("type", env.Type).Msg("reply dropped")
	}
}
