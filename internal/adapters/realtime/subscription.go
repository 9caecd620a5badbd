// Package realtime implements core.Realtime clients of the relay protocol.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("relay connection closed")
	ErrKicked       = errors.New("removed from topic by relay")
)

// link is the transport side of one subscription.
type link interface {
	send(ctx context.Context, env core.Envelope) error
	close()
}

// subscription turns relay envelopes into presence and broadcast events.
// Only the transport's reader goroutine calls deliver and finish.
type subscription struct {
	topic  domain.RoomID
	key    core.SessionID
	link   link
	logger zerolog.Logger

	events chan core.RealtimeEvent
	quit   chan struct{}
	once   sync.Once

	presences core.PresenceMap
	finished  bool
}

func newSubscription(topic domain.RoomID, key core.SessionID, l link, logger zerolog.Logger) *subscription {
	return &subscription{
		topic:     topic,
		key:       key,
		link:      l,
		logger:    logger,
		events:    make(chan core.RealtimeEvent, 64),
		quit:      make(chan struct{}),
		presences: make(core.PresenceMap),
	}
}

func (s *subscription) Track(ctx context.Context, payload json.RawMessage) error {
	return s.link.send(ctx, core.Envelope{Type: core.TypeTrack, Payload: payload})
}

func (s *subscription) Broadcast(ctx context.Context, event string, payload json.RawMessage) error {
	return s.link.send(ctx, core.Envelope{Type: core.TypeBroadcast, Event: event, Payload: payload})
}

func (s *subscription) Events() <-chan core.RealtimeEvent { return s.events }

// Leave ends the subscription. Events is closed without an EventClosed.
func (s *subscription) Leave() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		err = s.link.send(context.Background(), core.Envelope{Type: core.TypeLeave})
		s.link.close()
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *subscription) push(ev core.RealtimeEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// deliver handles one inbound envelope. It returns false once the
// subscription is over.
func (s *subscription) deliver(env core.Envelope) bool {
	switch env.Type {
	case core.TypePresenceState:
		joins, leaves := diffState(s.presences, env.Presences)
		s.presences = maps.Clone(env.Presences)
		if s.presences == nil {
			s.presences = make(core.PresenceMap)
		}
		return s.emitDiff(joins, leaves)
	case core.TypePresenceDiff:
		for key := range env.Leaves {
			delete(s.presences, key)
		}
		maps.Copy(s.presences, env.Joins)
		return s.emitDiff(env.Joins, env.Leaves)
	case core.TypeBroadcast:
		return s.push(core.RealtimeEvent{Kind: core.EventBroadcast, Event: env.Event, Payload: env.Payload})
	case core.TypeLeft:
		s.finish(ErrKicked)
		s.link.close()
		return false
	case core.TypeError:
		s.logger.Warn().Str("error", env.Error).Msg("relay error")
	case core.TypeJoined, core.TypePong:
	default:
		s.logger.Warn().Str("type", env.Type).Msg("unknown envelope")
	}
	return true
}

// emitDiff sends leaves, joins, then the full state.
func (s *subscription) emitDiff(joins, leaves core.PresenceMap) bool {
	if len(leaves) > 0 && !s.push(core.RealtimeEvent{Kind: core.EventPresenceLeave, Presences: leaves}) {
		return false
	}
	if len(joins) > 0 && !s.push(core.RealtimeEvent{Kind: core.EventPresenceJoin, Presences: joins}) {
		return false
	}
	return s.push(core.RealtimeEvent{Kind: core.EventPresenceSync, Presences: maps.Clone(s.presences)})
}

// finish reports the end of the subscription and closes Events. Only the
// reader goroutine calls it.
func (s *subscription) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true
	select {
	case <-s.quit:
	default:
		if err == nil {
			err = ErrClosed
		}
		s.push(core.RealtimeEvent{Kind: core.EventClosed, Err: err})
	}
	close(s.events)
}

func diffState(cur, next core.PresenceMap) (joins, leaves core.PresenceMap) {
	joins, leaves = make(core.PresenceMap), make(core.PresenceMap)
	for key, payload := range next {
		if old, ok := cur[key]; !ok || !bytes.Equal(old, payload) {
			joins[key] = payload
		}
	}
	for key, payload := range cur {
		if _, ok := next[key]; !ok {
			leaves[key] = payload
		}
	}
	return joins, leaves
}
