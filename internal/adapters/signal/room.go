package signal

import (
	"errors"

	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(cid core.ConnID, env core.Envelope) {
	roomID, err := domain.ParseRoomID(string(env.Topic))
	if err != nil {
		ctl.sendError(cid, err.Error())
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("room", string(roomID)).Str("key", string(env.Key)).Msg("join")

	if err := ctl.Orch.Join(cid, roomID, env.Key); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cid)).Msg("join rejected")
		switch {
		case errors.Is(err, core.ErrKeyInUse):
			ctl.sendError(cid, "key_in_use")
		case errors.Is(err, orch.ErrEmptyKey):
			ctl.sendError(cid, "empty_key")
		default:
			ctl.sendError(cid, "join_failed")
		}
	}
}

// handleLeave leaves the current topic; the connection stays open.
func (ctl *SignalWSController) handleLeave(cid core.ConnID) {
	log.Info().Str("module", "signal").Str("conn", string(cid)).Msg("leave")
	ctl.Orch.KickByConn(cid)
}
