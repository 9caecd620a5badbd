package call

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Signaling wraps one room topic of a realtime transport. It is driven from
// the session loop; only the pump goroutine runs concurrently, and it talks
// to the loop through post.
type Signaling struct {
	rt     core.Realtime
	self   core.SessionID
	post   func(Event)
	logger zerolog.Logger

	room  domain.RoomID
	sub   core.Subscription
	epoch uint64
}

func NewSignaling(rt core.Realtime, self core.SessionID, post func(Event)) *Signaling {
	return &Signaling{
		rt:     rt,
		self:   self,
		post:   post,
		logger: log.With().Str("module", "call.signaling").Str("sid", string(self)).Logger(),
	}
}

// Subscribe joins room. Subscribing again to the current room is a no-op.
func (s *Signaling) Subscribe(ctx context.Context, room domain.RoomID) error {
	if s.sub != nil {
		if s.room == room {
			return nil
		}
		return ErrInvalidTransition
	}
	sub, err := s.rt.Join(ctx, room, s.self)
	if err != nil {
		return &ChannelError{Op: "subscribe", Err: err}
	}
	s.epoch++
	s.sub, s.room = sub, room
	go s.pump(s.epoch, sub)
	s.logger.Info().Str("room", string(room)).Msg("subscribed")
	return nil
}

func (s *Signaling) Subscribed() bool { return s.sub != nil }

func (s *Signaling) Room() domain.RoomID { return s.room }

// Current reports whether epoch belongs to the live subscription.
func (s *Signaling) Current(epoch uint64) bool {
	return s.sub != nil && epoch == s.epoch
}

// Track publishes the local presence record.
func (s *Signaling) Track(ctx context.Context, p domain.Presence) error {
	if s.sub == nil {
		return ErrNotSubscribed
	}
	p.ID = string(s.self)
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.sub.Track(ctx, payload); err != nil {
		return &ChannelError{Op: "track", Err: err}
	}
	return nil
}

// Send broadcasts one signal addressed to sig.To.
func (s *Signaling) Send(ctx context.Context, sig Signal) error {
	if s.sub == nil {
		return ErrNotSubscribed
	}
	payload, err := encodeSignal(s.self, sig)
	if err != nil {
		return err
	}
	if err := s.sub.Broadcast(ctx, sig.Kind, payload); err != nil {
		return &ChannelError{Op: "send " + sig.Kind, Err: err}
	}
	return nil
}

// Unsubscribe leaves the topic. Safe when not subscribed.
func (s *Signaling) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	sub := s.sub
	s.sub, s.room = nil, ""
	if err := sub.Leave(); err != nil {
		return &ChannelError{Op: "unsubscribe", Err: err}
	}
	s.logger.Info().Msg("unsubscribed")
	return nil
}

func (s *Signaling) pump(epoch uint64, sub core.Subscription) {
	for ev := range sub.Events() {
		out := s.convert(ev)
		if out == nil {
			continue
		}
		s.post(channelEvent{epoch: epoch, ev: out})
		if ev.Kind == core.EventClosed {
			return
		}
	}
}

func (s *Signaling) convert(ev core.RealtimeEvent) Event {
	switch ev.Kind {
	case core.EventPresenceSync:
		return PresenceSync{Presences: s.presences(ev.Presences)}
	case core.EventPresenceJoin:
		ps := s.presences(ev.Presences)
		if len(ps) == 0 {
			return nil
		}
		return PresenceJoin{Presences: ps}
	case core.EventPresenceLeave:
		ps := s.presences(ev.Presences)
		if len(ps) == 0 {
			return nil
		}
		return PresenceLeave{Presences: ps}
	case core.EventBroadcast:
		out, err := decodeSignal(s.self, ev.Event, ev.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Str("event", ev.Event).Msg("bad signal payload")
			return nil
		}
		return out
	case core.EventClosed:
		return ChannelClosed{Err: ev.Err}
	}
	return nil
}

// presences decodes a presence map without the local session, sorted by id.
func (s *Signaling) presences(m core.PresenceMap) []domain.Presence {
	out := make([]domain.Presence, 0, len(m))
	for key, raw := range m {
		if key == s.self {
			continue
		}
		var p domain.Presence
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Warn().Err(err).Str("key", string(key)).Msg("bad presence payload")
		}
		p.ID = string(key)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
