package signal

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(cid core.ConnID) {
	ctl.send(cid, core.Envelope{Type: core.TypePong})
}

func (ctl *SignalWSController) handleBroadcast(cid core.ConnID, uid domain.UserID, env core.Envelope) {
	if !ctl.Limiter.Allow(uid) {
		log.Warn().Str("module", "signal").Str("user", string(uid)).Msg("broadcast rate limited")
		ctl.sendError(cid, "rate_limited")
		return
	}
	if err := ctl.Orch.Broadcast(cid, env.Event, env.Payload); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cid)).Msg("broadcast rejected")
		ctl.sendError(cid, err.Error())
	}
}
