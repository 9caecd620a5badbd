package call

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// LogNotifier writes notices to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n domain.Notice) {
	ev := log.Info()
	switch n.Level {
	case domain.NoticeWarn:
		ev = log.Warn()
	case domain.NoticeError:
		ev = log.Error()
	}
	ev.Str("module", "call.notice").Str("kind", string(n.Kind)).Msg(n.Message)
}
