package signal

import (
	"encoding/json"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleTrack stores the presence payload and keeps the user's display name
// in sync with the name it publishes.
func (ctl *SignalWSController) handleTrack(cid core.ConnID, uid domain.UserID, env core.Envelope) {
	if len(env.Payload) == 0 {
		ctl.sendError(cid, "bad_payload")
		return
	}
	if err := ctl.Orch.Track(cid, env.Payload); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cid)).Msg("track rejected")
		ctl.sendError(cid, "not_joined")
		return
	}

	var p domain.Presence
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Name == "" {
		return
	}
	if err := ctl.Orch.Registry.UpdateUsername(uid, p.Name); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("presence name not applied")
	}
}
